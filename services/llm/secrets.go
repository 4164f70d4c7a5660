// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/awnumar/memguard"
)

// apiKeySecretPath is where the container runtime mounts the key when
// it is provided as a secret rather than an environment variable.
const apiKeySecretPath = "/run/secrets/openai_api_key"

// resolveAPIKey locates the API key and seals it in an enclave so it
// never sits around as a loose string. Resolution order: explicit
// value, OPENAI_API_KEY, container secret file.
func resolveAPIKey(explicit string) (*memguard.Enclave, error) {
	if explicit != "" {
		return memguard.NewEnclave([]byte(explicit)), nil
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		return memguard.NewEnclave([]byte(key)), nil
	}
	data, err := os.ReadFile(apiKeySecretPath)
	if err == nil {
		key := strings.TrimSpace(string(data))
		if key != "" {
			slog.Info("Read the OpenAI API key from container secrets", "path", apiKeySecretPath)
			return memguard.NewEnclave([]byte(key)), nil
		}
	}
	return nil, fmt.Errorf("no API key found: set OPENAI_API_KEY or mount %s", apiKeySecretPath)
}
