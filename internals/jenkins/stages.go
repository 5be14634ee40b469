package jenkins

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"

	"github.com/civ-ci/civ/internals/schemas"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Stage is one node of a pipeline run as reported by Blue Ocean.
type Stage struct {
	ID          string              `json:"id"`
	DisplayName string              `json:"displayName"`
	State       string              `json:"state"`
	Result      string              `json:"result"`
	DurationMs  int64               `json:"durationInMillis"`
	StartTime   string              `json:"startTime,omitempty"`
	Type        string              `json:"type"`
	FirstParent string              `json:"firstParent,omitempty"`
	Edges       []schemas.StageEdge `json:"edges"`
	Links       json.RawMessage     `json:"_links,omitempty"`
}

// LogHref is the log link of the stage, or "" when it has none.
func (s Stage) LogHref() string {
	if len(s.Links) == 0 {
		return ""
	}
	return gjson.GetBytes(s.Links, "log.href").String()
}

// GetPipelineStages lists the nodes of a pipeline run in the order Jenkins
// returns them. Every node with a self link gets a log link "<self>log/".
func (c *Client) GetPipelineStages(ctx context.Context, jobName string, number int64) ([]Stage, error) {
	ref := "blue/rest/organizations/jenkins/" + pipelinePath(jobName) + "/runs/" + strconv.FormatInt(number, 10) + "/nodes/"
	query := url.Values{"limit": {strconv.Itoa(c.nodeLimit)}}

	resp, err := c.do(ctx, "GET", ref, query, nil)
	if err == nil {
		var stages []Stage
		stages, err = parseStages(resp.body)
		if err == nil {
			return stages, nil
		}
	}

	c.logger.Error("failed to fetch pipeline stages",
		slog.String("job", jobName),
		slog.Int64("number", number),
		slog.String("error", err.Error()),
	)
	return nil, fmt.Errorf("%w: stages of %s #%d: %w", ErrRemoteQueryFailed, jobName, number, err)
}

func parseStages(body []byte) ([]Stage, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("invalid nodes json")
	}
	doc := gjson.ParseBytes(body)
	if !doc.IsArray() {
		return nil, fmt.Errorf("nodes json is not a list")
	}

	stages := make([]Stage, 0, len(doc.Array()))
	var parseErr error
	doc.ForEach(func(_, node gjson.Result) bool {
		raw := node.Raw
		if self := node.Get("_links.self.href"); self.Exists() && self.String() != "" {
			rewritten, err := sjson.Set(raw, "_links.log.href", self.String()+"log/")
			if err != nil {
				parseErr = err
				return false
			}
			raw = rewritten
		}
		stages = append(stages, parseStage(gjson.Parse(raw)))
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}
	return stages, nil
}

func parseStage(node gjson.Result) Stage {
	stage := Stage{
		ID:          node.Get("id").String(),
		DisplayName: node.Get("displayName").String(),
		State:       node.Get("state").String(),
		Result:      node.Get("result").String(),
		DurationMs:  node.Get("durationInMillis").Int(),
		StartTime:   node.Get("startTime").String(),
		Type:        node.Get("type").String(),
		FirstParent: node.Get("firstParent").String(),
		Edges:       []schemas.StageEdge{},
	}
	node.Get("edges").ForEach(func(_, edge gjson.Result) bool {
		stage.Edges = append(stage.Edges, schemas.StageEdge{
			ID:   edge.Get("id").String(),
			Type: edge.Get("type").String(),
		})
		return true
	})
	if links := node.Get("_links"); links.Exists() {
		stage.Links = json.RawMessage(links.Raw)
	}
	return stage
}
