package models

// Display metadata for the closed enums. Each enum has exactly one mapping
// function so list views and dashboards cannot drift apart on labels or
// colors. The functions are exhaustive; the fallback branches exist only for
// values that already failed Valid() and should never be rendered.

// CategoryInfo is display and routing metadata for a category.
type CategoryInfo struct {
	Label      string `json:"label"`
	Color      string `json:"color"`
	Department string `json:"department"`
}

// CategoryDisplay maps a category to its display metadata.
func CategoryDisplay(c Category) CategoryInfo {
	switch c {
	case CategoryRoads:
		return CategoryInfo{Label: "Roads", Color: "#f59e0b", Department: "public_works"}
	case CategoryLighting:
		return CategoryInfo{Label: "Street Lighting", Color: "#eab308", Department: "utilities"}
	case CategoryWater:
		return CategoryInfo{Label: "Water & Drainage", Color: "#3b82f6", Department: "utilities"}
	case CategoryCleanliness:
		return CategoryInfo{Label: "Cleanliness", Color: "#22c55e", Department: "sanitation"}
	case CategoryObstructions:
		return CategoryInfo{Label: "Obstructions", Color: "#a855f7", Department: "public_works"}
	case CategorySafety:
		return CategoryInfo{Label: "Public Safety", Color: "#ef4444", Department: "safety"}
	}
	return CategoryInfo{Label: string(c), Color: "#6b7280", Department: "general"}
}

// SeverityInfo is display metadata for a severity, with a rank for sorting.
type SeverityInfo struct {
	Label string `json:"label"`
	Color string `json:"color"`
	Rank  int    `json:"rank"`
}

// SeverityDisplay maps a severity to its display metadata.
func SeverityDisplay(s Severity) SeverityInfo {
	switch s {
	case SeverityLow:
		return SeverityInfo{Label: "Low", Color: "#22c55e", Rank: 1}
	case SeverityMedium:
		return SeverityInfo{Label: "Medium", Color: "#eab308", Rank: 2}
	case SeverityHigh:
		return SeverityInfo{Label: "High", Color: "#f97316", Rank: 3}
	case SeverityCritical:
		return SeverityInfo{Label: "Critical", Color: "#ef4444", Rank: 4}
	}
	return SeverityInfo{Label: string(s), Color: "#6b7280", Rank: 0}
}

// StatusInfo is display metadata for an issue status.
type StatusInfo struct {
	Label string `json:"label"`
	Color string `json:"color"`
}

// StatusDisplay maps a status to its display metadata.
func StatusDisplay(st Status) StatusInfo {
	switch st {
	case StatusReceived:
		return StatusInfo{Label: "Received", Color: "#3b82f6"}
	case StatusInProgress:
		return StatusInfo{Label: "In Progress", Color: "#eab308"}
	case StatusResolved:
		return StatusInfo{Label: "Resolved", Color: "#22c55e"}
	case StatusRejected:
		return StatusInfo{Label: "Rejected", Color: "#ef4444"}
	}
	return StatusInfo{Label: string(st), Color: "#6b7280"}
}
