// internal/bot/bot.go
package bot

import (
	"context"
	"strconv"
	"time"

	"github.com/devid-org/github-attestation-bot/internal/logging"
	"go.uber.org/zap"
	"gopkg.in/tucnak/telebot.v2"
)

type Bot struct {
	telegramBot  *telebot.Bot
	orchestrator *Orchestrator
	greeting     string
	stopChan     chan struct{} // Channel to stop the bot
}

func NewBot(token, greeting string, orchestrator *Orchestrator) (*Bot, error) {
	b, err := telebot.NewBot(telebot.Settings{
		Token:  token,
		Poller: &telebot.LongPoller{Timeout: 10 * time.Second},
	})
	if err != nil {
		return nil, err
	}

	return &Bot{
		telegramBot:  b,
		orchestrator: orchestrator,
		greeting:     greeting,
		stopChan:     make(chan struct{}),
	}, nil
}

// Start starts the bot and registers handlers
func (b *Bot) Start() {
	b.registerHandlers()
	logging.Info("The bot has been launched")

	go b.telegramBot.Start()

	// Wait for a signal to stop the bot
	<-b.stopChan
	b.telegramBot.Stop() // Stop the bot
	logging.Info("The bot has been stopped")
}

// Stop signals the end of the bot's work
func (b *Bot) Stop() {
	close(b.stopChan) // Close the channel to complete the work
}

func (b *Bot) registerHandlers() {
	b.telegramBot.Handle("/start", func(m *telebot.Message) {
		b.sendMessage(m.Sender, b.greeting)
		b.handleText(m)
	})
	b.telegramBot.Handle(telebot.OnText, b.handleText)
}

func (b *Bot) handleText(m *telebot.Message) {
	deviceAddress := strconv.FormatInt(m.Sender.ID, 10)
	reply, err := b.orchestrator.Respond(context.Background(), deviceAddress, m.Text)
	if err != nil {
		logging.Error("Error handling message",
			zap.String("device", deviceAddress),
			zap.Error(err),
		)
		b.sendMessage(m.Sender, "Something went wrong, please try again later.")
		return
	}
	if reply != "" {
		b.sendMessage(m.Sender, reply)
	}
}

// sendMessage sends a message to the user and logs an error if one occurs
func (b *Bot) sendMessage(to telebot.Recipient, message string) {
	_, err := b.telegramBot.Send(to, message)
	if err != nil {
		// Log the error of sending the message
		logging.Error("Error sending message",
			zap.String("message", message),
			zap.Error(err),
		)
	}
}

type chatRecipient string

func (r chatRecipient) Recipient() string { return string(r) }

// SendText delivers an unprompted message to a device address (a chat ID).
func (b *Bot) SendText(deviceAddress, text string) {
	b.sendMessage(chatRecipient(deviceAddress), text)
}
