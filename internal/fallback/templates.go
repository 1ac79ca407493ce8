package fallback

import "github.com/xaenox/sparkgen/internal/models"

// template placeholders: {name} and {occasion}. Clauses wrapped in [ ] are
// dropped when they reference an empty placeholder.
type toneTable map[models.Tone][]string

var templates = map[models.Category]toneTable{
	models.CategoryRomantic: {
		models.ToneSweet: {
			"Every moment with you, {name}, feels like home.[ Happy {occasion}!]",
			"I love you more than words can hold, {name}.",
			"You are my favorite hello and my hardest goodbye, {name}.",
		},
		models.TonePassionate: {
			"{name}, you set my whole world on fire.[ Can't wait to celebrate {occasion} with you.]",
			"I can't stop thinking about you, {name}. Not for a second.",
		},
		models.TonePoetic: {
			"If love were a sky, {name}, you'd be every star in it.",
			"You are the quiet verse my heart keeps repeating, {name}.",
		},
	},
	models.CategoryAppreciation: {
		models.ToneSweet: {
			"Thank you for being you, {name}. I notice everything you do.",
			"Thank you for being supportive, {name}. It means the world to me.",
		},
		models.ToneThoughtful: {
			"{name}, I don't say it enough: thank you for the thousand small kindnesses.",
		},
	},
	models.CategoryApology: {
		models.ToneThoughtful: {
			"{name}, I'm sorry. You deserve better from me and I'll show you.",
			"I was wrong, {name}. I'm listening now.",
		},
	},
	models.CategoryEncouragement: {
		models.ToneCasual: {
			"You've got this, {name}! Go show them.",
		},
		models.ToneSweet: {
			"I believe in you, {name}, today and every day.",
		},
	},
	models.CategoryGoodMorning: {
		models.ToneSweet: {
			"Good morning, {name}! Waking up thinking of you is the best start.",
			"Rise and shine, {name}. The day is lucky to have you.",
		},
		models.TonePlayful: {
			"Morning, sleepyhead {name}! Coffee's on me.",
		},
	},
	models.CategoryGoodNight: {
		models.ToneSweet: {
			"Good night, {name}. Dream of us.",
			"Sleep well, {name}. I'll be here when you wake.",
		},
	},
	models.CategoryAnniversary: {
		models.ToneSweet: {
			"Happy anniversary, {name}! Every year with you is my favorite one.",
		},
		models.TonePoetic: {
			"Another year of us, {name}, and still the best story I know.",
		},
	},
	models.CategoryBirthday: {
		models.TonePlayful: {
			"Happy birthday, {name}! Another year more fabulous.",
		},
		models.ToneSweet: {
			"Happy birthday, {name}. The world got better the day you arrived.",
		},
	},
	models.CategoryMissingYou: {
		models.ToneSweet: {
			"Missing you, {name}. Counting the minutes.",
		},
	},
	models.CategoryFunny: {
		models.TonePlayful: {
			"{name}, you're the cheese to my macaroni.",
			"I love you even when you steal the blanket, {name}.",
		},
	},
	models.CategorySupport: {
		models.ToneThoughtful: {
			"I'm right here, {name}. Whatever you need.",
		},
	},
}

// timeOfDayTemplates follow the category's own templates.
var timeOfDayTemplates = map[models.TimeOfDay][]string{
	models.Morning:   {"Good morning, {name}. Thinking of you already."},
	models.Afternoon: {"Just a little note this afternoon, {name}: you make my day."},
	models.Evening:   {"Can't wait to see you tonight, {name}."},
	models.Night:     {"Good night, {name}. You're my last thought today."},
}

var genericTemplates = []string{
	"Thinking of you, {name}.[ Happy {occasion}!]",
	"You make everything better, {name}.",
	"Just wanted to say I care about you, {name}.",
	"Smiling because of you, {name}.",
	"Lucky to have you, {name}. Always.",
}
