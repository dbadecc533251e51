package questions

import "sort"

// Answer scale for the Q1-Q15 screening form. Unrecognized answers score
// zero.
var answerScores = map[string]int{
	"Not at all":       0,
	"Sometimes":        1,
	"Often":            2,
	"Almost every day": 3,
}

const maxAnswerScore = 3

var questionTexts = map[string]string{
	"Q1":  "Feeling nervous, anxious, or on edge",
	"Q2":  "Not being able to stop or control worrying",
	"Q3":  "Having trouble relaxing",
	"Q4":  "Being afraid that something awful might happen",
	"Q5":  "Little interest or pleasure in doing things",
	"Q6":  "Feeling down, depressed, or hopeless",
	"Q7":  "Trouble falling or staying asleep",
	"Q8":  "Feeling tired or having little energy",
	"Q9":  "Poor appetite or overeating",
	"Q10": "Feeling bad about yourself or that you are a failure",
	"Q11": "Trouble concentrating on things",
	"Q12": "Moving or speaking slowly or being fidgety/restless",
	"Q13": "Thoughts that you would be better off dead",
	"Q14": "Difficulty with work, home, or relationships",
	"Q15": "Overall stress level",
}

// Factor is one answered question's weight in the overall score.
type Factor struct {
	Question string `json:"question" bson:"question"`
	Text     string `json:"text" bson:"text"`
	Score    int    `json:"score" bson:"score"`
}

// Assessment is the scored outcome of a submitted form.
type Assessment struct {
	Score      int      `json:"score" bson:"score"`
	Percentage float64  `json:"percentage" bson:"percentage"`
	Level      string   `json:"level" bson:"level"`
	TopFactors []Factor `json:"topFactors" bson:"topFactors"`
}

const topFactorCount = 5

// ScoreAnswers runs the additive risk model over the submitted answers. The
// score is the sum of per-answer weights; the level comes from the score as
// a percentage of the maximum possible for the answered questions: 60% and
// up is high, 30% and up is medium, below that low.
func ScoreAnswers(answers map[string]string) Assessment {
	total := 0
	factors := make([]Factor, 0, len(answers))
	for q, a := range answers {
		score := answerScores[a]
		total += score
		if score > 0 {
			text, ok := questionTexts[q]
			if !ok {
				text = q
			}
			factors = append(factors, Factor{Question: q, Text: text, Score: score})
		}
	}

	var pct float64
	if len(answers) > 0 {
		pct = float64(total) / float64(len(answers)*maxAnswerScore) * 100
	}

	level := "low"
	switch {
	case pct >= 60:
		level = "high"
	case pct >= 30:
		level = "medium"
	}

	sort.Slice(factors, func(i, j int) bool {
		if factors[i].Score != factors[j].Score {
			return factors[i].Score > factors[j].Score
		}
		return factors[i].Question < factors[j].Question
	})
	if len(factors) > topFactorCount {
		factors = factors[:topFactorCount]
	}

	return Assessment{Score: total, Percentage: pct, Level: level, TopFactors: factors}
}
