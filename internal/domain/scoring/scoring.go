// Package scoring summarizes submitted evaluation results.
//
// Clients score each video against fixed rubric criteria worth 5, 15 or 30
// points apiece and submit the raw results payload when an evaluation
// completes. The payload is stored verbatim; this package derives the
// server-side summary returned with the completion response and shown on
// dashboards.
package scoring

import (
	"encoding/json"
	"fmt"
)

// Rubric point values per criterion.
const (
	PointsMinimal  = 5
	PointsPartial  = 15
	PointsComplete = 30
)

// VideoResult is one scored video inside a results payload.
type VideoResult struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	Score    float64 `json:"score"`
	MaxScore float64 `json:"maxScore,omitempty"`
}

// resultsPayload tolerates both the wrapped and bare-array client shapes.
type resultsPayload struct {
	Videos []VideoResult `json:"videos"`
}

// Summary is the derived view of a completed evaluation.
type Summary struct {
	TotalVideos   int     `json:"totalVideos"`
	ScoredVideos  int     `json:"scoredVideos"`
	TotalScore    float64 `json:"totalScore"`
	HighestScore  float64 `json:"highestScore"`
	TopVideoID    string  `json:"topVideoId,omitempty"`
	TopVideoTitle string  `json:"topVideoTitle,omitempty"`
}

// Summarize parses a raw results payload and derives its summary. A video
// counts as scored when its score is positive; the top performer is the
// first video holding the highest score.
func Summarize(raw []byte) (Summary, error) {
	videos, err := parseVideos(raw)
	if err != nil {
		return Summary{}, err
	}

	s := Summary{TotalVideos: len(videos)}
	for _, v := range videos {
		if v.Score <= 0 {
			continue
		}
		s.ScoredVideos++
		s.TotalScore += v.Score
		if v.Score > s.HighestScore {
			s.HighestScore = v.Score
			s.TopVideoID = v.ID
			s.TopVideoTitle = v.Title
		}
	}
	return s, nil
}

func parseVideos(raw []byte) ([]VideoResult, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	var wrapped resultsPayload
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.Videos != nil {
		return wrapped.Videos, nil
	}

	var bare []VideoResult
	if err := json.Unmarshal(raw, &bare); err == nil {
		return bare, nil
	}

	return nil, fmt.Errorf("%w: unrecognized results payload", ErrBadResults)
}
