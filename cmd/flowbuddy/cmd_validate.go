// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianFlow/pkg/ux"
	"github.com/AleutianAI/AleutianFlow/services/compiler"
)

// runValidate validates a workflow document and prints its findings.
func runValidate(cmd *cobra.Command, args []string) error {
	source, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read workflow: %w", err)
	}

	cat, err := loadCatalog()
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	comp, err := compiler.New(cat)
	if err != nil {
		return err
	}

	wf, err := comp.Parse(string(source))
	if err != nil {
		return fmt.Errorf("parse %s: %w", args[0], err)
	}

	structure := comp.ValidateStructure(wf)
	artifact := comp.ValidateArtifact(wf)

	findings := append(structure.All(), artifact.All()...)
	for _, w := range findings {
		ux.FindingLine(w.Code, warningLocation(w), w.Message, false)
	}

	errorCount := len(structure.Errors) + len(artifact.Errors)
	switch {
	case len(findings) == 0:
		ux.Success(fmt.Sprintf("%s validates clean (%d nodes)", args[0], len(wf.Nodes)))
	case errorCount > 0:
		return fmt.Errorf("%s has %d error finding(s)", args[0], errorCount)
	case strictMode:
		return fmt.Errorf("%s has %d finding(s)", args[0], len(findings))
	default:
		ux.Warning(fmt.Sprintf("%s has %d non-blocking finding(s)", args[0], len(findings)))
	}
	return nil
}

// warningLocation renders the node/parameter scope of a finding.
func warningLocation(w compiler.Warning) string {
	switch {
	case w.NodeName != "" && w.ParameterPath != "":
		return w.NodeName + "." + w.ParameterPath
	case w.NodeName != "":
		return w.NodeName
	default:
		return ""
	}
}
