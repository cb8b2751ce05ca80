package playback

import "github.com/annel0/battle-replay/internal/battle"

// Listener получает уведомления контроллера. Колбэки вызываются
// после снятия внутренней блокировки, поэтому из них можно управлять контроллером.
// Переданные срезы событий ссылаются на лог сессии и не должны изменяться.
type Listener interface {
	OnTick(state battle.BattlefieldState, newEvents []battle.BattleEvent)
	OnPlaybackStateChanged(from, to State)
	OnSeek(t float64, state battle.BattlefieldState)
	OnReplayEnded()
}

// NopListener пустая реализация для встраивания
type NopListener struct{}

func (NopListener) OnTick(battle.BattlefieldState, []battle.BattleEvent) {}
func (NopListener) OnPlaybackStateChanged(State, State)                  {}
func (NopListener) OnSeek(float64, battle.BattlefieldState)              {}
func (NopListener) OnReplayEnded()                                       {}
