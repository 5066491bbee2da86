package client

import (
	"sync"

	"github.com/roomchat/internal/model"
)

// Feed зеркалирует состояние комнаты из live-подписки. Порядок сообщений —
// тот, что прислал сервер: лента его не пересортировывает. Loading истинно
// до первого события (или ошибки подписки).
type Feed struct {
	mu       sync.RWMutex
	messages []model.Message
	loading  bool
	err      error
	ended    bool
}

func NewFeed() *Feed {
	return &Feed{loading: true}
}

// Apply применяет одно событие подписки. Вызывается из одной горутины —
// той, что читает Subscription.Events().
func (f *Feed) Apply(ev ServerEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch ev.Type {
	case EventSnapshot:
		f.messages = append(f.messages[:0], ev.Snapshot.Messages...)
		f.loading = false
		f.err = nil
	case EventMessageAdded:
		f.loading = false
		f.messages = append(f.messages, *ev.Added)
	case EventMessageDeleted:
		f.loading = false
		for i, m := range f.messages {
			if m.ID == ev.Deleted.MessageID {
				f.messages = append(f.messages[:i], f.messages[i+1:]...)
				break
			}
		}
	case EventError:
		// Серверная ошибка операции не рушит подписку; лента остаётся как есть.
		f.loading = false
	}
}

// End помечает подписку завершённой. err != nil — обрыв, nil — штатный Close.
// Уже показанные сообщения остаются на экране.
func (f *Feed) End(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ended = true
	f.loading = false
	f.err = err
}

// Run читает события подписки до её конца. Блокирует; обычно запускается
// горутиной. onChange (если не nil) вызывается после каждого изменения.
func (f *Feed) Run(sub *Subscription, onChange func()) {
	for ev := range sub.Events() {
		f.Apply(ev)
		if onChange != nil {
			onChange()
		}
	}
	f.End(sub.Err())
	if onChange != nil {
		onChange()
	}
}

// Messages возвращает копию текущего состояния ленты.
func (f *Feed) Messages() []model.Message {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]model.Message, len(f.messages))
	copy(out, f.messages)
	return out
}

// Loading — истинно до первого события подписки.
func (f *Feed) Loading() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.loading
}

// Ended — подписка завершена (обрыв или Close).
func (f *Feed) Ended() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.ended
}

// Err — причина обрыва подписки, nil при штатном завершении.
func (f *Feed) Err() error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.err
}
