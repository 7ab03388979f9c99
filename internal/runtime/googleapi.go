// internal/runtime/googleapi.go — adapts *gmail.Service to our small interface
package runtime

import (
	"context"
	"errors"
	"net/http"

	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"

	gc "github.com/jal472/gmail-unsubscriber/internal/gmail"
)

type googleClient struct{ svc *gmail.Service }

func NewGoogleAPIClient(svc *gmail.Service) *googleClient { return &googleClient{svc} }

func (g *googleClient) List(ctx context.Context, q gc.Query, pageToken string, pageSize int) (gc.ListPage, error) {
	call := g.svc.Users.Messages.List("me").MaxResults(int64(pageSize))
	if q.Raw != "" {
		call = call.Q(q.Raw)
	}
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}
	res, err := call.Context(ctx).Do()
	if err != nil {
		return gc.ListPage{}, classify("list messages", err)
	}
	page := gc.ListPage{NextPageToken: res.NextPageToken}
	for _, m := range res.Messages {
		page.IDs = append(page.IDs, gc.MessageID(m.Id))
	}
	return page, nil
}

func (g *googleClient) GetFull(ctx context.Context, id gc.MessageID) (gc.Message, error) {
	msg, err := g.svc.Users.Messages.Get("me", string(id)).Format("full").Context(ctx).Do()
	if err != nil {
		return gc.Message{}, classify("get message "+string(id), err)
	}
	return gc.Message{ID: id, Payload: toPart(msg.Payload)}, nil
}

func toPart(p *gmail.MessagePart) gc.Part {
	if p == nil {
		return gc.Part{}
	}
	part := gc.Part{MimeType: p.MimeType}
	if len(p.Headers) > 0 {
		part.Headers = make(map[string]string, len(p.Headers))
		for _, h := range p.Headers {
			part.Headers[h.Name] = h.Value
		}
	}
	if p.Body != nil {
		part.Data = p.Body.Data
	}
	for _, sub := range p.Parts {
		part.Parts = append(part.Parts, toPart(sub))
	}
	return part
}

// classify sorts an API failure into the auth or transient bucket. Token
// refresh failures, 401s and permission 403s are auth; rate limiting and
// everything else is transient.
func classify(op string, err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		return gc.AuthError(op, err)
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusUnauthorized:
			return gc.AuthError(op, err)
		case http.StatusForbidden:
			if !isRateLimited(apiErr) {
				return gc.AuthError(op, err)
			}
		}
	}
	return gc.TransientError(op, err)
}

func isRateLimited(apiErr *googleapi.Error) bool {
	for _, item := range apiErr.Errors {
		switch item.Reason {
		case "rateLimitExceeded", "userRateLimitExceeded", "dailyLimitExceeded", "quotaExceeded":
			return true
		}
	}
	return false
}
