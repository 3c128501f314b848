// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of netpub.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package clusterbus

import (
	"bytes"
	"encoding/json"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
)

// Config holds the connection parameters for the cluster overlay's NATS
// server, one section of the recorder's JSON config (internal/config).
type Config struct {
	Address       string `json:"address"`
	Username      string `json:"username"`
	Password      string `json:"password"`
	CredsFilePath string `json:"creds-file-path"`
}

// Keys holds the global cluster-bus configuration loaded via Init, backing
// the package-level Connect/GetBus singleton.
var Keys Config

const ConfigSchema = `{
    "type": "object",
    "description": "Configuration for the replay session cluster overlay (NATS).",
    "properties": {
        "address": {
            "description": "Address of the NATS server (e.g., 'nats://localhost:4222').",
            "type": "string"
        },
        "username": {
            "description": "Username for NATS authentication (optional).",
            "type": "string"
        },
        "password": {
            "description": "Password for NATS authentication (optional).",
            "type": "string"
        },
        "creds-file-path": {
            "description": "Path to NATS credentials file for authentication (optional).",
            "type": "string"
        }
    },
    "required": ["address"]
}`

// Init initializes the global Keys configuration from JSON, mirroring
// config.go's convention across this codebase's other optional subsystems.
func Init(rawConfig json.RawMessage) error {
	var err error
	if rawConfig != nil {
		dec := json.NewDecoder(bytes.NewReader(rawConfig))
		dec.DisallowUnknownFields()
		if err = dec.Decode(&Keys); err != nil {
			cclog.Errorf("clusterbus: invalid config: %s", err.Error())
		}
	}
	return err
}
