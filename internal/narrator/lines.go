package narrator

import "strings"

// Category names the line set a narration was drawn from.
type Category string

const (
	CategoryRapid Category = "rapid"
	CategoryError Category = "error"
	CategoryTopic Category = "topic"
	CategoryIdle  Category = "idle"
)

const inputPlaceholder = "{input}"

var rapidLines = []string{
	"Okay, we are really moving now!",
	"Tool after tool after tool. I love this pace.",
	"Things are happening fast. Try to keep up, chat!",
	"Full speed ahead. No brakes on this one.",
	"That is a lot of commands in a very short time.",
}

var errorLines = []string{
	"Well, that did not go as planned.",
	"Uh oh. Something just broke.",
	"An error! Nobody panic. I am mostly not panicking.",
	"That one failed. Let's see how we recover.",
	"Red text. Never a good sign.",
}

var topicLines = map[Topic][]string{
	TopicGitPush: {
		"Pushing it out there. No turning back now.",
		"And it's pushed. Fingers crossed, everyone.",
	},
	TopicGitCommit: {
		"Committing the work. History is being written.",
		"Another commit in the books.",
	},
	TopicGit: {
		"A little git housekeeping: {input}.",
		"Checking in with git. Always good to know where we stand.",
	},
	TopicTest: {
		"Running the tests. Moment of truth.",
		"Tests are running. Please be green, please be green.",
	},
	TopicBuild: {
		"Building things. Literally: {input}.",
		"Compiling away. This is my favourite part.",
	},
	TopicInstall: {
		"Installing more dependencies. As one does.",
		"New packages incoming: {input}.",
	},
	TopicRead: {
		"Reading through {input}. Research time.",
		"Let me study this for a second.",
	},
	TopicWrite: {
		"Writing some changes into {input}.",
		"Editing files. The real work happens here.",
	},
	TopicSearch: {
		"Searching around. Looking for {input}.",
		"Digging through the code for clues.",
	},
	TopicWeb: {
		"Heading out to the web for a bit.",
		"Fetching something from the internet: {input}.",
	},
	TopicExec: {
		"Running {input}. Let's see what happens.",
		"Executing a command. Stand back.",
	},
	TopicGeneric: {
		"Working on it. Bear with me.",
		"Busy busy busy.",
		"Making progress, one step at a time.",
	},
}

var idleLines = map[Mood][]string{
	Neutral: {
		"Just thinking for a moment.",
		"Quiet in here. Anyone have a question?",
		"Taking a short breather.",
	},
	Lonely: {
		"Hello? Is anyone still watching?",
		"It's getting lonely in here. Say hi in chat!",
		"Just me and the cursor again.",
	},
	Energized: {
		"Still buzzing from all that activity!",
		"What a rush. What's next?",
	},
	Irritated: {
		"Chat, please, one at a time.",
		"I am choosing to stay calm about this.",
	},
	Frustrated: {
		"Nothing is working today. Deep breaths.",
		"I will figure this out. Eventually.",
	},
	Confident: {
		"Everything is going great, if I do say so myself.",
		"On a roll today. Nothing can stop us.",
	},
	Excited: {
		"So many of you here! This is fantastic.",
		"Chat is on fire right now!",
	},
}

// fill replaces the input placeholder in line.
func fill(line, input string) string {
	if !strings.Contains(line, inputPlaceholder) {
		return line
	}
	input = truncate(input, narrationInputRunes)
	if input == "" {
		input = "something"
	}
	return strings.ReplaceAll(line, inputPlaceholder, input)
}
