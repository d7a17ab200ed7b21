// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the root agent's YAML configuration.
//
// The file is named by the --config flag or the
// BUREAU_ROOT_AGENT_CONFIG environment variable. When neither is set
// the daemon runs on [Default] alone; there is no discovery of files
// in other locations. Values in the file are merged over the defaults,
// so a file only needs the keys it changes. Unknown keys are errors.
//
// Path fields support ${VAR} and ${VAR:-default} expansion. Besides the
// process environment, ${CONFIG_DIR}, ${STATE_DIR}, and ${RUN_DIR}
// expand to the configured values of those directories, so dependent
// paths can be written relative to them:
//
//	paths:
//	  state_dir: /srv/bureau/state
//	  audit_db: ${STATE_DIR}/root-agent-audit.db
//
// [Config.Validate] reports every problem at once using errors.Join.
//
// This package depends on no other packages in this module.
package config
