package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"danmuget/internal/domain"
	errpkg "danmuget/internal/errors"
)

type matchRequest struct {
	URL           string `json:"url,omitempty"`
	FileName      string `json:"fileName,omitempty"`
	FileHash      string `json:"fileHash"`
	FileSize      int64  `json:"fileSize"`
	VideoDuration int64  `json:"videoDuration"`
	MatchMode     string `json:"matchMode"`
}

type matchCandidate struct {
	EpisodeID    int64  `json:"episodeId"`
	AnimeTitle   string `json:"animeTitle"`
	EpisodeTitle string `json:"episodeTitle"`
}

type matchResponse struct {
	Success bool             `json:"success"`
	Matches []matchCandidate `json:"matches"`
}

type searchEpisode struct {
	EpisodeID     int64       `json:"episodeId"`
	EpisodeNumber json.Number `json:"episodeNumber"`
	EpisodeTitle  string      `json:"episodeTitle"`
}

type searchAnime struct {
	AnimeTitle string          `json:"animeTitle"`
	Episodes   []searchEpisode `json:"episodes"`
}

type searchResponse struct {
	Success bool          `json:"success"`
	Animes  []searchAnime `json:"animes"`
}

// Resolve turns a task into a concrete comment source id. A task
// carrying a commentId resolves without touching the network; the
// other modes hit one of the upstream lookup endpoints.
func (c *Client) Resolve(ctx context.Context, task domain.Task) (domain.ResolvedTarget, error) {
	switch task.Mode() {
	case domain.ModeCommentID:
		return domain.ResolvedTarget{CommentID: task.CommentID}, nil
	case domain.ModeURL:
		return c.resolveMatch(ctx, matchRequest{URL: task.URL, MatchMode: "urlOnly"}, task.URL)
	case domain.ModeFileName:
		return c.resolveMatch(ctx, matchRequest{FileName: task.FileName, MatchMode: "fileNameOnly"}, task.FileName)
	case domain.ModeSearch:
		return c.resolveSearch(ctx, task.Anime, task.Episode)
	}
	return domain.ResolvedTarget{}, errpkg.ErrNoResolutionMode
}

func (c *Client) resolveMatch(ctx context.Context, req matchRequest, subject string) (domain.ResolvedTarget, error) {
	var resp matchResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/v2/match", nil, req, &resp); err != nil {
		return domain.ResolvedTarget{}, err
	}
	if !resp.Success {
		return domain.ResolvedTarget{}, errpkg.Permanent(fmt.Errorf("match request rejected by upstream: %s", subject))
	}

	switch len(resp.Matches) {
	case 0:
		return domain.ResolvedTarget{}, fmt.Errorf("%w: %s", errpkg.ErrNoMatch, subject)
	case 1:
	default:
		return domain.ResolvedTarget{}, fmt.Errorf("%w: %s (%d candidates)", errpkg.ErrAmbiguousMatch, subject, len(resp.Matches))
	}

	match := resp.Matches[0]
	if match.EpisodeID == 0 {
		return domain.ResolvedTarget{}, fmt.Errorf("%w: %s", errpkg.ErrNoMatch, subject)
	}
	return domain.ResolvedTarget{
		CommentID:    match.EpisodeID,
		AnimeTitle:   match.AnimeTitle,
		EpisodeTitle: match.EpisodeTitle,
	}, nil
}

func (c *Client) resolveSearch(ctx context.Context, anime, episode string) (domain.ResolvedTarget, error) {
	query := url.Values{}
	query.Set("anime", anime)
	query.Set("episode", episode)

	var resp searchResponse
	if err := c.doJSON(ctx, http.MethodGet, "/api/v2/search/episodes", query, nil, &resp); err != nil {
		return domain.ResolvedTarget{}, err
	}
	if !resp.Success {
		return domain.ResolvedTarget{}, errpkg.Permanent(fmt.Errorf("search request rejected by upstream: %s", anime))
	}

	// Exact episode-number match only; a near miss is a failure, not a
	// best-effort pick.
	for _, a := range resp.Animes {
		for _, ep := range a.Episodes {
			if ep.EpisodeNumber.String() == episode && ep.EpisodeID != 0 {
				return domain.ResolvedTarget{
					CommentID:    ep.EpisodeID,
					AnimeTitle:   a.AnimeTitle,
					EpisodeTitle: ep.EpisodeTitle,
				}, nil
			}
		}
	}
	return domain.ResolvedTarget{}, fmt.Errorf("%w: %s episode %s", errpkg.ErrEpisodeNotFound, anime, episode)
}
