package quiz

// Question is one quiz step. A question without options collects free text
// and is not scored.
type Question struct {
	Text    string
	Options []string
	Correct int
}

// Scored reports whether the question counts towards the result.
func (q Question) Scored() bool {
	return len(q.Options) > 0
}

// DefaultQuestions is the qualification test shown to new partners.
var DefaultQuestions = []Question{
	{Text: "Let's get acquainted! What is your name?"},
	{
		Text:    "What does a partner receive for every client who comes with their promo code?",
		Options: []string{"Nothing", "A referral credit and a reward on the balance", "A discount on their own purchases", "A free subscription"},
		Correct: 1,
	},
	{
		Text:    "Which promo code can be registered?",
		Options: []string{"LEX 2024", "lex-2024", "LEX2024", "@lex2024"},
		Correct: 2,
	},
	{
		Text:    "How many promo codes can one partner own?",
		Options: []string{"One", "Two", "Up to five", "Unlimited"},
		Correct: 0,
	},
	{
		Text:    "What is the minimum amount for a withdrawal request?",
		Options: []string{"500 RUB", "1000 RUB", "1500 RUB", "There is no minimum"},
		Correct: 2,
	},
	{
		Text:    "Who approves withdrawal requests?",
		Options: []string{"They are paid automatically", "The program administrator", "The referred client", "The bank"},
		Correct: 1,
	},
	{
		Text:    "What happens to your balance when a withdrawal is rejected?",
		Options: []string{"It is reset to zero", "It is debited anyway", "It stays untouched", "It is frozen for a month"},
		Correct: 2,
	},
	{
		Text:    "Where should you share your promo code?",
		Options: []string{"In spam mailings", "With people who may need the service", "On sites that forbid advertising", "Nowhere"},
		Correct: 1,
	},
	{
		Text:    "Is it allowed to promise clients results on behalf of the company?",
		Options: []string{"Yes, always", "Only to friends", "No, only the company makes commitments", "Yes, if the client insists"},
		Correct: 2,
	},
	{
		Text:    "Where can you see your referrals and balance?",
		Options: []string{"Only by asking support", "In the Statistics section of the personal cabinet", "In the promo code itself", "Nowhere"},
		Correct: 1,
	},
}
