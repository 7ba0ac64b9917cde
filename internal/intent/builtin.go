package intent

// Built-in intent names.
const (
	Help        = "help"
	Stop        = "stop"
	Cancel      = "cancel"
	Time        = "time"
	Date        = "date"
	SetTimer    = "set_timer"
	CheckTimer  = "check_timer"
	CancelTimer = "cancel_timer"
	SetAlarm    = "set_alarm"
)

// Builtin returns the default pattern table in precedence order. Patterns
// match on a prefix, so "stop the timer" has to reach cancel_timer before the
// bare "stop" pattern sees it. System intents follow and win over everything
// else.
func Builtin() []Pattern {
	return []Pattern{
		MustCompile(CancelTimer, `(?:cancel|stop)(?: the| my)? timer`),

		MustCompile(Help, `help(?: me)?|what can (?:you|i) do|what commands(?: are there| do you know)?`),
		MustCompile(Stop, `stop(?: listening)?|exit|quit|bye|goodbye`),
		MustCompile(Cancel, `cancel(?: that| it)?|never ?mind|forget(?: it| that)?`),

		MustCompile(Time, `what time is it|what's the time|what is the time|(?:tell me the )?current time|tell me the time`),
		MustCompile(Date, `what's the date|what is the date|what day is(?: it)?(?: today)?|today's date|(?:the )?current date`),

		MustCompile(SetTimer, `(?:(?:set|start)(?: a| the)? )?timer for (?P<duration>.+)`),
		MustCompile(CheckTimer, `how much time(?: is)? (?:left|remaining)(?: on (?:my|the) timer)?|check(?: the| my)? timer`),
		MustCompile(SetAlarm, `(?:set(?: an)? alarm for|wake me up at) (?P<time>.+)`),
	}
}

// NewBuiltinParser returns an unfrozen Parser seeded with [Builtin].
func NewBuiltinParser() *Parser {
	return NewParser(Builtin()...)
}
