package protocol

// Event names pushed from the gateway to clients.
const (
	EventMemoDeleted    = "memoDeleted"
	EventDataImported   = "dataImported"
	EventStorageChanged = "storageChanged"

	// Widget commands addressed to a single tab.
	EventShowMemo     = "showMemo"
	EventHideMemo     = "hideMemo"
	EventMinimizeMemo = "minimizeMemo"
	EventRestoreMemo  = "restoreMemo"

	EventShutdown = "shutdown"
)
