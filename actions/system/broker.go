// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package system

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bureau-foundation/bureau-root-agent/lib/action"
	"github.com/bureau-foundation/bureau-root-agent/lib/validate"
)

const (
	brokerAllocationFile = "broker-allocation.json"
	deployerKeyFile      = "deployer.key"
)

var errNoAllocation = errors.New("no existing broker allocation found")

type brokerAllocation struct {
	NFTContract string `json:"nft_contract"`
}

// brokerRenew renews the host's broker lease for the NFT contract
// recorded in broker-allocation.json and reconfigures WireGuard.
func (h *handlers) brokerRenew(ctx context.Context, params action.Params) (action.Result, error) {
	path := filepath.Join(h.config.ConfigDir, brokerAllocationFile)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, errNoAllocation
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read broker allocation: %w", err)
	}
	var allocation brokerAllocation
	if err := json.Unmarshal(data, &allocation); err != nil {
		return nil, fmt.Errorf("failed to read broker allocation: %w", err)
	}
	if allocation.NFTContract == "" {
		return nil, errNoAllocation
	}
	if _, err := validate.Address("nft_contract", allocation.NFTContract); err != nil {
		return nil, fmt.Errorf("broker allocation: %w", err)
	}

	argv := []string{
		h.config.BrokerClientBinary, "renew",
		"--nft-contract", allocation.NFTContract,
		"--wallet-key", filepath.Join(h.config.ConfigDir, deployerKeyFile),
		"--configure-wg",
	}
	result, err := h.env.Exec(ctx, argv, brokerRenewTimeout)
	if err != nil {
		return nil, err
	}
	return action.Result{"output": result.Stdout}, nil
}
