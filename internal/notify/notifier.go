package notify

import (
	"context"
	"sync"
	"time"

	appconfig "arbflow/config"
	"arbflow/logger"
)

// Sender delivers one message to a chat service.
type Sender interface {
	Name() string
	Deliver(ctx context.Context, title, body string) error
}

// Notifier fans every message out to its senders in the background. Failures
// are logged and never reach the caller.
type Notifier struct {
	senders []Sender
	timeout time.Duration
	wg      sync.WaitGroup
	log     *logger.Entry
}

func NewNotifier(timeout time.Duration, senders ...Sender) *Notifier {
	return &Notifier{
		senders: senders,
		timeout: timeout,
		log:     logger.GetLogger().WithComponent("notifier"),
	}
}

// FromConfig builds a notifier with the enabled senders.
func FromConfig(cfg appconfig.NotifyConfig) *Notifier {
	var senders []Sender
	if cfg.Telegram.Enabled {
		senders = append(senders, NewTelegramSender(cfg.Telegram, cfg.Timeout))
	}
	if cfg.Discord.Enabled {
		senders = append(senders, NewDiscordSender(cfg.Discord, cfg.Timeout))
	}
	return NewNotifier(cfg.Timeout, senders...)
}

// Senders returns the names of the configured senders.
func (n *Notifier) Senders() []string {
	names := make([]string, 0, len(n.senders))
	for _, s := range n.senders {
		names = append(names, s.Name())
	}
	return names
}

// Send returns immediately. The sends outlive ctx cancellation up to the
// notifier timeout so shutdown notices still go out.
func (n *Notifier) Send(ctx context.Context, title, body string) {
	for _, s := range n.senders {
		n.wg.Add(1)
		go func(s Sender) {
			defer n.wg.Done()
			sendCtx := context.WithoutCancel(ctx)
			if n.timeout > 0 {
				var cancel context.CancelFunc
				sendCtx, cancel = context.WithTimeout(sendCtx, n.timeout)
				defer cancel()
			}
			start := time.Now()
			if err := s.Deliver(sendCtx, title, body); err != nil {
				n.log.WithError(err).WithFields(logger.Fields{
					"sender": s.Name(),
					"title":  title,
				}).Error("notification failed")
				return
			}
			logger.IncrementAlertSent()
			logger.LogPerformanceEntry(n.log, "notifier", "send_"+s.Name(), time.Since(start), logger.Fields{"title": title})
		}(s)
	}
}

// Wait blocks until every pending send has finished.
func (n *Notifier) Wait() {
	n.wg.Wait()
}
