package bots_monitor

// Telegram command source: /start begins monitoring the configured
// addresses, /status probes the RPC pool, /help lists the commands.

import (
	"context"
	"fmt"
	"html"
	"strings"
	"sync"
	"sync/atomic"

	"kol-monitor/internal/features/watcher"
	"kol-monitor/internal/infra/log"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

const helpText = "" +
	"Available commands:\n" +
	"/start - Start the bot and begin monitoring\n" +
	"/help - Show this help message\n" +
	"/status - Check bot and network status"

const statusBusyText = "A status check is already running, please wait."

// Starter starts monitors for a set of addresses.
type Starter interface {
	Start(addresses []string) (int, error)
}

// StatusSource produces a fresh status snapshot.
type StatusSource interface {
	Snapshot(ctx context.Context) watcher.Status
}

type CommandHandler struct {
	sender      Sender
	starter     Starter
	status      StatusSource
	addresses   []string
	allowedChat string

	statusBusy atomic.Bool
}

// NewCommandHandler answers commands from allowedChat only, given as a
// numeric chat id or an @channel username. An empty allowedChat accepts every
// chat.
func NewCommandHandler(sender Sender, starter Starter, status StatusSource, addresses []string, allowedChat string) *CommandHandler {
	return &CommandHandler{
		sender:      sender,
		starter:     starter,
		status:      status,
		addresses:   addresses,
		allowedChat: strings.TrimSpace(allowedChat),
	}
}

// Run consumes updates until ctx is done or the channel is closed.
// /status probes the RPC pool in the background so other commands keep
// flowing; only one probe runs at a time. Run waits for it before returning.
func (h *CommandHandler) Run(ctx context.Context, updates <-chan tgbotapi.Update) {
	log.LogInfo("Starting command handler", zap.String("allowedChat", h.allowedChat))

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			log.LogInfo("Command handler stopped")
			return
		case update, ok := <-updates:
			if !ok {
				log.LogWarn("Telegram updates channel closed, command handler stopped")
				return
			}
			message := update.Message
			if message == nil || !message.IsCommand() || !h.accepts(message.Chat) {
				continue
			}
			if message.Command() != "status" {
				h.Handle(ctx, message)
				continue
			}
			if !h.statusBusy.CompareAndSwap(false, true) {
				h.reply(message, statusBusyText, "")
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer h.statusBusy.Store(false)
				h.Handle(ctx, message)
			}()
		}
	}
}

// Handle answers one command message. Unknown commands are ignored.
func (h *CommandHandler) Handle(ctx context.Context, message *tgbotapi.Message) {
	if !h.accepts(message.Chat) {
		log.LogDebug("Ignoring command from foreign chat",
			zap.String("chatID", formatChatID(message.Chat.ID)))
		return
	}
	command := message.Command()

	username := ""
	if message.From != nil {
		username = message.From.UserName
	}
	log.LogDebug("Received command",
		zap.String("command", command),
		zap.String("chatID", formatChatID(message.Chat.ID)),
		zap.String("username", username))

	switch command {
	case "start":
		h.handleStart(message)
	case "help":
		h.reply(message, helpText, "")
	case "status":
		h.handleStatus(ctx, message)
	}
}

func (h *CommandHandler) accepts(chat *tgbotapi.Chat) bool {
	if chat == nil {
		return false
	}
	if h.allowedChat == "" {
		return true
	}
	if name, ok := strings.CutPrefix(h.allowedChat, "@"); ok {
		return strings.EqualFold(chat.UserName, name)
	}
	return formatChatID(chat.ID) == h.allowedChat
}

func (h *CommandHandler) handleStart(message *tgbotapi.Message) {
	h.reply(message, FormatGreeting(message.From), tgbotapi.ModeHTML)

	started, err := h.starter.Start(h.addresses)
	if err != nil {
		log.LogError("Failed to start monitoring", zap.Error(err))
		h.reply(message, "Monitoring could not be started: "+err.Error(), "")
		return
	}
	log.LogInfo("Start command processed",
		zap.Int("new_monitors", started),
		zap.Int("configured_addresses", len(h.addresses)))
}

func (h *CommandHandler) handleStatus(ctx context.Context, message *tgbotapi.Message) {
	h.reply(message, FormatStatusMessage(h.status.Snapshot(ctx)), "")
}

func (h *CommandHandler) reply(message *tgbotapi.Message, text, parseMode string) {
	msg := tgbotapi.NewMessage(message.Chat.ID, text)
	msg.ParseMode = parseMode
	msg.ReplyToMessageID = message.MessageID
	if _, err := h.sender.Send(msg); err != nil {
		log.LogError("Failed to send command reply",
			zap.String("chatID", formatChatID(message.Chat.ID)),
			zap.Error(err))
	}
}

// FormatGreeting is the /start reply, mentioning the user when known.
func FormatGreeting(user *tgbotapi.User) string {
	name := "there"
	if user != nil {
		first := user.FirstName
		if first == "" {
			first = user.UserName
		}
		name = fmt.Sprintf(`<a href="tg://user?id=%d">%s</a>`, user.ID, html.EscapeString(first))
	}
	return fmt.Sprintf("Hi %s! I'm your Solana monitoring bot. I will notify you of any transactions on the monitored addresses.", name)
}

// FormatStatusMessage renders a status snapshot as plain text.
func FormatStatusMessage(st watcher.Status) string {
	var b strings.Builder
	if st.Reachable {
		b.WriteString("Network Status: ✅ Connected\n")
	} else {
		b.WriteString("Network Status: ❌ Disconnected\n")
	}
	b.WriteString(fmt.Sprintf("Current RPC Node: %s\n", st.CurrentEndpoint))
	b.WriteString(fmt.Sprintf("Monitored Addresses: %d\n", st.ConfiguredAddresses))
	b.WriteString(fmt.Sprintf("Active Monitors: %d", st.ActiveMonitors))
	return b.String()
}
