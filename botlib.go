package botbox

import (
	"encoding/json"
	"fmt"
)

// BotMessage is the inbound event a trusted runtime dispatches to the bot
// script's command handler.
type BotMessage struct {
	ID      string `json:"id"`
	Channel string `json:"channel"`
	Author  string `json:"author"`
	Content string `json:"content"`
}

// botJS is the trusted bootstrap: a bot namespace whose handlers the host
// script replaces. Defaults are no-ops so a runtime with no bot script
// still ticks cleanly.
const botJS = `
(function() {
	var bot = {};
	bot.on_command = function(msg, args) {};
	bot.think = function() {};
	globalThis.bot = bot;
})();
`

// setupBotLib evaluates the trusted bootstrap. Host capabilities and the
// user's bot script layer on top of it at creation time.
func setupBotLib(r *Runtime) error {
	return r.rt.Eval(botJS)
}

// dispatchCommand invokes bot.on_command with the message and args encoded
// as JS literals.
func dispatchCommand(r *Runtime, msg BotMessage, args []string) error {
	msgJSON, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}
	if args == nil {
		args = []string{}
	}
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encoding args: %w", err)
	}
	return r.rt.Eval(fmt.Sprintf("bot.on_command(%s, %s);", msgJSON, argsJSON))
}
