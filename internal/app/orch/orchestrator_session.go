package orch

import "github.com/dkeye/voicesession/internal/app"

func (o *Orchestrator) SendChat(text string) error {
	eng, err := o.current()
	if err != nil {
		return err
	}
	return eng.SendChat(text)
}

// Snapshot is the current provider-agnostic view.
func (o *Orchestrator) Snapshot() app.Snapshot { return o.store.Snapshot() }

// Subscribe delivers snapshots; a slow reader only sees the latest one.
func (o *Orchestrator) Subscribe() (<-chan app.Snapshot, func()) { return o.store.Subscribe() }
