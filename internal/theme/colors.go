// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package theme

import "github.com/charmbracelet/lipgloss"

// All colors are AdaptiveColor so light and dark terminals both read well.

// =============================================================================
// ACCENTS
// =============================================================================

// Blue - accent of the default theme
var Blue = lipgloss.AdaptiveColor{Light: "#2563EB", Dark: "#60A5FA"}

// BlueSoft - default user bubble
var BlueSoft = lipgloss.AdaptiveColor{Light: "#DBEAFE", Dark: "#1E3A8A"}

// Emerald - accent of the green theme
var Emerald = lipgloss.AdaptiveColor{Light: "#059669", Dark: "#34D399"}

// EmeraldSoft - green user bubble
var EmeraldSoft = lipgloss.AdaptiveColor{Light: "#D1FAE5", Dark: "#064E3B"}

// EmeraldFaint - green assistant bubble
var EmeraldFaint = lipgloss.AdaptiveColor{Light: "#ECFDF5", Dark: "#022C22"}

// Purple - accent of the purple theme
var Purple = lipgloss.AdaptiveColor{Light: "#7C3AED", Dark: "#A78BFA"}

// PurpleSoft - purple user bubble
var PurpleSoft = lipgloss.AdaptiveColor{Light: "#EDE9FE", Dark: "#4C1D95"}

// PurpleFaint - purple assistant bubble
var PurpleFaint = lipgloss.AdaptiveColor{Light: "#F5F3FF", Dark: "#2E1065"}

// Rose - accent of the rose theme; also used for errors everywhere
var Rose = lipgloss.AdaptiveColor{Light: "#E11D48", Dark: "#FB7185"}

// RoseSoft - rose user bubble
var RoseSoft = lipgloss.AdaptiveColor{Light: "#FFE4E6", Dark: "#881337"}

// RoseFaint - rose assistant bubble
var RoseFaint = lipgloss.AdaptiveColor{Light: "#FFF1F2", Dark: "#4C0519"}

// =============================================================================
// SURFACES & TEXT
// =============================================================================

// Gray - default assistant bubble
var Gray = lipgloss.AdaptiveColor{Light: "#F3F4F6", Dark: "#313244"}

// TextPrimary - message body
var TextPrimary = lipgloss.AdaptiveColor{Light: "#111827", Dark: "#CDD6F4"}

// TextMuted - timestamps, hints
var TextMuted = lipgloss.AdaptiveColor{Light: "#6B7280", Dark: "#6C7086"}
