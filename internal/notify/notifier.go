package notify

import (
	"context"
	"fmt"
	"sync"

	"risksync/pkg/logger"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const queueSize = 256

// Notifier: куда уходят события зеркалирования.
type Notifier interface {
	Send(msg string)
	Sendf(format string, args ...any)
}

// StatusFunc отдаёт текст для команды /status.
type StatusFunc func() string

// Telegram: пассивный нотифайер + обработка одной команды /status.
// Отправка асинхронная: тик не ждёт api.telegram.org.
type Telegram struct {
	bot    *tgbot.BotAPI
	chatID int64
	status StatusFunc

	queue chan string
	wg    sync.WaitGroup
}

func NewTelegram(token string, chatID int64, status StatusFunc) (*Telegram, error) {
	b, err := tgbot.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	return newTelegram(b, chatID, status), nil
}

func newTelegram(b *tgbot.BotAPI, chatID int64, status StatusFunc) *Telegram {
	return &Telegram{
		bot:    b,
		chatID: chatID,
		status: status,
		queue:  make(chan string, queueSize),
	}
}

func (t *Telegram) Send(msg string) {
	if t == nil || t.bot == nil || t.chatID == 0 {
		return
	}
	select {
	case t.queue <- msg:
	default:
		logger.Warn("telegram: queue is full, drop message: %s", msg)
	}
}

func (t *Telegram) Sendf(format string, args ...any) { t.Send(fmt.Sprintf(format, args...)) }

func (t *Telegram) send(msg string) {
	if _, err := t.bot.Send(tgbot.NewMessage(t.chatID, msg)); err != nil {
		logger.Warn("telegram: send failed: %v", err)
	}
}

// Start: отправщик очереди + long-polling команд.
func (t *Telegram) Start(ctx context.Context) {
	if t == nil || t.bot == nil {
		return
	}

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		for {
			select {
			case msg := <-t.queue:
				t.send(msg)
			case <-ctx.Done():
				t.drain()
				return
			}
		}
	}()

	u := tgbot.NewUpdate(0)
	u.Timeout = 30
	u.AllowedUpdates = []string{"message"}

	updates := t.bot.GetUpdatesChan(u)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case upd, ok := <-updates:
				if !ok {
					return
				}
				t.handle(upd)
			}
		}
	}()
}

func (t *Telegram) handle(upd tgbot.Update) {
	if upd.Message == nil || upd.Message.Chat == nil ||
		upd.Message.Chat.ID != t.chatID || !upd.Message.IsCommand() {
		return
	}

	switch upd.Message.Command() {
	case "status":
		if t.status == nil {
			t.Send("статус недоступен")
			return
		}
		t.Send(t.status())
	}
}

// drain досылает то, что успели положить до остановки.
func (t *Telegram) drain() {
	for {
		select {
		case msg := <-t.queue:
			t.send(msg)
		default:
			return
		}
	}
}

// Stop ждёт, пока отправщик дошлёт очередь. ctx для Start должен быть уже отменён.
func (t *Telegram) Stop() {
	if t == nil || t.bot == nil {
		return
	}
	t.bot.StopReceivingUpdates()
	t.wg.Wait()
}

// Log: без телеграма события просто пишутся в лог.
type Log struct{}

func NewLog() *Log { return &Log{} }

func (l *Log) Send(msg string)                  { logger.Info("notify: %s", msg) }
func (l *Log) Sendf(format string, args ...any) { l.Send(fmt.Sprintf(format, args...)) }
