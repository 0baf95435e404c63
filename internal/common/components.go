package common

const (
	ComponentDriver        = "driver"
	ComponentEntityStore   = "entity-store"
	ComponentEventLog      = "event-log"
	ComponentScanner       = "scanner"
	ComponentReorgDetector = "reorg-detector"
	ComponentNotifier      = "notifier"
	ComponentReindex       = "reindex"
	ComponentMaintenance   = "maintenance"
	ComponentRPC           = "rpc"
)

var AllComponents = map[string]struct{}{
	ComponentDriver:        {},
	ComponentEntityStore:   {},
	ComponentEventLog:      {},
	ComponentScanner:       {},
	ComponentReorgDetector: {},
	ComponentNotifier:      {},
	ComponentReindex:       {},
	ComponentMaintenance:   {},
	ComponentRPC:           {},
}
