package plugins

import (
	"github.com/kilianp07/vetdispatch/config"
	dispatchlog "github.com/kilianp07/vetdispatch/core/dispatch/logging"
	"github.com/kilianp07/vetdispatch/core/store"
	infrastore "github.com/kilianp07/vetdispatch/infra/store"
)

func init() {
	RegisterStore("memory", func(config.StoreConfig) (*Stores, error) {
		return &Stores{
			Requests:     store.NewMemoryRequestStore(),
			Providers:    store.NewMemoryProviderDirectory(),
			Appointments: store.NewMemoryAppointmentStore(),
		}, nil
	})
	RegisterStore("sqlite", func(c config.StoreConfig) (*Stores, error) {
		db, err := infrastore.Open(c.Path)
		if err != nil {
			return nil, err
		}
		return &Stores{
			Requests:     db.Requests(),
			Providers:    db.Providers(),
			Appointments: db.Appointments(),
			close:        db.Close,
		}, nil
	})

	RegisterLogStore("jsonl", func(c config.LoggingConfig) (dispatchlog.LogStore, error) {
		if c.MaxSizeMB > 0 {
			return dispatchlog.NewRotatingJSONLStore(c.Path, c.MaxSizeMB, c.MaxBackups, c.MaxAgeDays)
		}
		return dispatchlog.NewJSONLStore(c.Path)
	})
	RegisterLogStore("sqlite", func(c config.LoggingConfig) (dispatchlog.LogStore, error) {
		return dispatchlog.NewSQLiteStore(c.Path)
	})
}
