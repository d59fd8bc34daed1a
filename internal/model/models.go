// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import "strings"

// =============================================================================
// MODEL INFO TYPE
// =============================================================================

// ModelInfo describes a completion model offered in the settings panel.
type ModelInfo struct {
	// ID is the model identifier sent in requests
	ID string `json:"id"`

	// Name is the human-readable display name
	Name string `json:"name"`

	// Description is a brief explanation shown next to the name
	Description string `json:"description"`
}

// DefaultModelID is selected when no preference has been stored.
const DefaultModelID = "glm-4"

// Models is the catalog of selectable models, default first.
var Models = []ModelInfo{
	{ID: "glm-4", Name: "GLM-4", Description: "General purpose, highest quality"},
	{ID: "glm-3-turbo", Name: "GLM-3-Turbo", Description: "Faster, lower cost"},
}

// LookupModel finds a catalog entry by ID (case-insensitive).
func LookupModel(id string) (ModelInfo, bool) {
	for _, m := range Models {
		if strings.EqualFold(m.ID, id) {
			return m, true
		}
	}
	return ModelInfo{}, false
}

// ModelIDs returns the IDs of all catalog entries.
func ModelIDs() []string {
	ids := make([]string, len(Models))
	for i, m := range Models {
		ids[i] = m.ID
	}
	return ids
}
