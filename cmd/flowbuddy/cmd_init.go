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
	"strconv"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianFlow/cmd/flowbuddy/config"
	"github.com/AleutianAI/AleutianFlow/pkg/ux"
)

// runInit walks through the first-run questions and writes the config
// file. Existing files are never overwritten without confirmation.
func runInit(cmd *cobra.Command, args []string) error {
	path := cfgPath
	if path == "" {
		path = config.ExpandPath(config.DefaultPath)
	}

	if _, err := os.Stat(path); err == nil {
		overwrite := false
		confirm := huh.NewConfirm().
			Title(fmt.Sprintf("%s already exists. Overwrite?", path)).
			Value(&overwrite)
		if err := confirm.Run(); err != nil {
			return err
		}
		if !overwrite {
			ux.Muted("Keeping the existing configuration.")
			return nil
		}
	}

	newCfg := config.Default()
	portStr := strconv.Itoa(newCfg.Server.Port)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Model provider").
				Description("Where build sessions send their prompts.").
				Options(
					huh.NewOption("OpenAI (needs OPENAI_API_KEY)", "openai"),
					huh.NewOption("Ollama (local)", "ollama"),
				).
				Value(&newCfg.Model.Provider),

			huh.NewInput().
				Title("Model name").
				Description("Leave empty for the provider default.").
				Value(&newCfg.Model.Name),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Session record directory").
				Value(&newCfg.Store.Path),

			huh.NewInput().
				Title("API port for `flowbuddy serve`").
				Value(&portStr).
				Validate(func(s string) error {
					port, err := strconv.Atoi(s)
					if err != nil || port < 1 || port > 65535 {
						return fmt.Errorf("port must be between 1 and 65535")
					}
					return nil
				}),
		),
	)
	if err := form.Run(); err != nil {
		return err
	}
	newCfg.Server.Port, _ = strconv.Atoi(portStr)

	if err := config.Save(&newCfg, path); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	ux.Success("Configuration written to " + path)
	if newCfg.Model.Provider == "openai" {
		ux.Info("Set OPENAI_API_KEY in your environment before running builds.")
	}
	return nil
}
