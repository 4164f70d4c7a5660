// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command flowbuddy builds automation workflows from natural language.
//
// FlowBuddy drives an LLM through an iterative build loop: the model
// edits a single workflow document through tool calls, a validation
// gateway reports findings, and the loop continues until the document
// validates clean or a ceiling is hit.
//
// Usage:
//
//	flowbuddy init
//	flowbuddy build "when a form is submitted, post the answers to Slack"
//	flowbuddy build --baseline workflow.json "add error handling"
//	flowbuddy validate workflow.json
//	flowbuddy serve
//	flowbuddy session list
//	flowbuddy backup run
//
// Configuration lives at ~/.flowbuddy/config.yaml; `flowbuddy init`
// creates it interactively. The OpenAI key is read from OPENAI_API_KEY
// or the container secret file, never from the config file.
package main

import (
	"os"

	"github.com/AleutianAI/AleutianFlow/pkg/ux"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		ux.Error(err.Error())
		os.Exit(1)
	}
}
