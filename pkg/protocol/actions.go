package protocol

// Request actions (the "action" tag of a request frame).
const (
	// Session
	ActionConnect = "connect"
	ActionPing    = "ping"

	// Memos
	ActionGetMemo            = "getMemo"
	ActionSaveMemo           = "saveMemo"
	ActionDeleteMemo         = "deleteMemo"
	ActionListMemos          = "listMemos"
	ActionAddSelectionToMemo = "addSelectionToMemo"

	// Templates
	ActionGetAllTemplates  = "getAllTemplates"
	ActionGetTemplate      = "getTemplate"
	ActionSaveTemplate     = "saveTemplate"
	ActionDeleteTemplate   = "deleteTemplate"
	ActionReorderTemplates = "reorderTemplates"

	// Backup
	ActionExportData     = "exportData"
	ActionImportData     = "importData"
	ActionValidateImport = "validateImport"

	// Settings
	ActionGetSelectionStatus  = "getSelectionStatus"
	ActionSetSelectionEnabled = "setSelectionEnabled"

	// Widget
	ActionShowMemo     = "showMemo"
	ActionHideMemo     = "hideMemo"
	ActionMinimizeMemo = "minimizeMemo"
	ActionRestoreMemo  = "restoreMemo"
	ActionToggleMemo   = "toggleMemo"
)

// Client context kinds declared on connect.
const (
	ContextTab        = "tab"
	ContextPopup      = "popup"
	ContextTemplates  = "templates"
	ContextBackground = "background"
	ContextCLI        = "cli"
)
