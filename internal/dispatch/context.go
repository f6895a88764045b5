package dispatch

import (
	"github.com/convoq/convoq/internal/chatlog"
	"github.com/convoq/convoq/internal/mention"
	"github.com/convoq/convoq/internal/registry"
)

// ContextResult is the assembled context window a bot receives.
type ContextResult struct {
	TriggerMessage  *chatlog.Message
	ContextMessages []*chatlog.Message
	CleanedContent  string
}

// BuildContext assembles the ordered context window for one bot invocation
// according to the bot's context mode. threadMessages is the ordered list of
// messages in the trigger's thread (nil when unthreaded); parent is the
// thread's anchoring message (nil when unthreaded or for mode none/thread).
func BuildContext(trigger *chatlog.Message, threadMessages []*chatlog.Message, parent *chatlog.Message, bot registry.Bot, matches []mention.Match) ContextResult {
	var context []*chatlog.Message

	switch bot.ContextMode {
	case registry.ContextNone:
		context = []*chatlog.Message{}
	case registry.ContextThread:
		context = precedingInThread(threadMessages, trigger.ID)
	case registry.ContextFull:
		context = precedingInThread(threadMessages, trigger.ID)
		if parent != nil {
			context = append([]*chatlog.Message{parent}, context...)
		}
	default:
		context = []*chatlog.Message{}
	}

	// Recency wins: keep the most recent entries when over budget.
	if bot.MaxContextMessages > 0 && len(context) > bot.MaxContextMessages {
		context = context[len(context)-bot.MaxContextMessages:]
	}

	return ContextResult{
		TriggerMessage:  trigger,
		ContextMessages: context,
		CleanedContent:  mention.Strip(trigger.Content, matches),
	}
}

// precedingInThread returns the messages strictly before the trigger,
// scanning by identity until the trigger id is found. Messages after the
// trigger are never included; an absent trigger yields the whole list.
func precedingInThread(threadMessages []*chatlog.Message, triggerID string) []*chatlog.Message {
	out := []*chatlog.Message{}
	for _, m := range threadMessages {
		if m.ID == triggerID {
			return out
		}
		out = append(out, m)
	}
	return out
}
