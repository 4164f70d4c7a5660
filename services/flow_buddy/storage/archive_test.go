// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestArchiveConfig_Validate(t *testing.T) {
	cfg := ArchiveConfig{Bucket: "aleutian-flow-archive"}
	assert.NoError(t, cfg.Validate())

	cfg.Bucket = ""
	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "bucket")
}

func TestArchiver_ObjectName(t *testing.T) {
	a := &Archiver{bucket: "aleutian-flow-archive", prefix: DefaultArchivePrefix}
	assert.Equal(t, "flowbuddy/sessions/sess_01.json", a.objectName("sess_01"))

	a.prefix = "custom/prefix"
	assert.Equal(t, "custom/prefix/sess_01.json", a.objectName("sess_01"))
}

func TestNewArchiver_Validation(t *testing.T) {
	ctx := context.Background()

	t.Run("rejects empty bucket", func(t *testing.T) {
		_, err := NewArchiver(ctx, ArchiveConfig{}, nil)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "invalid archive config")
	})

	t.Run("rejects missing credentials file", func(t *testing.T) {
		cfg := ArchiveConfig{
			Bucket:          "aleutian-flow-archive",
			CredentialsFile: "/nonexistent/service-account.json",
		}
		_, err := NewArchiver(ctx, cfg, nil)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "service account key not found")
	})
}
