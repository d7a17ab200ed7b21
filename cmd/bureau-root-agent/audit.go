// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/bureau-root-agent/lib/audit"
)

func runAudit(args []string) error {
	var configPath, actionName string
	var limit int
	var jsonOutput bool
	flagSet := pflag.NewFlagSet(binaryName+" audit", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "configuration file")
	flagSet.StringVar(&actionName, "action", "", "only show requests for this action")
	flagSet.IntVar(&limit, "limit", audit.DefaultQueryLimit, "maximum number of records, newest first")
	flagSet.BoolVar(&jsonOutput, "json", false, "print one JSON object per record")
	if err := parseFlags(flagSet, args); err != nil {
		return err
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	path := cfg.Paths.AuditDB
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("no audit database at %s", path)
	}

	auditLog, err := audit.Open(audit.Config{Path: path})
	if err != nil {
		return err
	}
	defer auditLog.Close()

	records, err := auditLog.Query(context.Background(), audit.Filter{Action: actionName, Limit: limit})
	if err != nil {
		return err
	}
	if jsonOutput {
		return printAuditJSON(os.Stdout, records)
	}
	printAuditTable(os.Stdout, records)
	return nil
}

type auditLine struct {
	RequestID  string         `json:"request_id"`
	Time       time.Time      `json:"time"`
	Action     string         `json:"action"`
	Params     map[string]any `json:"params,omitempty"`
	PeerPID    *int32         `json:"peer_pid,omitempty"`
	PeerUID    *uint32        `json:"peer_uid,omitempty"`
	OK         bool           `json:"ok"`
	Error      string         `json:"error,omitempty"`
	DurationMS float64        `json:"duration_ms"`
}

func printAuditJSON(w io.Writer, records []audit.Record) error {
	encoder := json.NewEncoder(w)
	for _, record := range records {
		line := auditLine{
			RequestID:  record.RequestID,
			Time:       record.Time.UTC(),
			Action:     record.Action,
			Params:     record.Params,
			OK:         record.OK,
			Error:      record.Error,
			DurationMS: float64(record.Duration) / float64(time.Millisecond),
		}
		if record.Peer != nil {
			line.PeerPID = &record.Peer.PID
			line.PeerUID = &record.Peer.UID
		}
		if err := encoder.Encode(line); err != nil {
			return err
		}
	}
	return nil
}

func printAuditTable(w io.Writer, records []audit.Record) {
	table := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(table, "TIME\tACTION\tPEER\tRESULT\tDURATION\tREQUEST")
	for _, record := range records {
		peer := "-"
		if record.Peer != nil {
			peer = fmt.Sprintf("pid=%d uid=%d", record.Peer.PID, record.Peer.UID)
		}
		result := "ok"
		if !record.OK {
			result = "error: " + record.Error
		}
		fmt.Fprintf(table, "%s\t%s\t%s\t%s\t%s\t%s\n",
			record.Time.Local().Format(time.DateTime),
			record.Action,
			peer,
			result,
			record.Duration.Round(time.Millisecond),
			record.RequestID,
		)
	}
	table.Flush()
}
