package recording

import "github.com/annel0/battle-replay/internal/battle"

// Observer получает уведомления менеджера записи синхронно, в потоке хоста.
// Реализация не должна блокироваться надолго.
type Observer interface {
	OnSessionStarted(h SessionHandle)
	OnEventRecorded(ev battle.BattleEvent)
	OnSessionFinalized(s *battle.Session)
}

// ObserverFuncs адаптер для наблюдателей, которым нужен только один из колбэков.
type ObserverFuncs struct {
	SessionStarted   func(h SessionHandle)
	EventRecorded    func(ev battle.BattleEvent)
	SessionFinalized func(s *battle.Session)
}

func (o ObserverFuncs) OnSessionStarted(h SessionHandle) {
	if o.SessionStarted != nil {
		o.SessionStarted(h)
	}
}

func (o ObserverFuncs) OnEventRecorded(ev battle.BattleEvent) {
	if o.EventRecorded != nil {
		o.EventRecorded(ev)
	}
}

func (o ObserverFuncs) OnSessionFinalized(s *battle.Session) {
	if o.SessionFinalized != nil {
		o.SessionFinalized(s)
	}
}
