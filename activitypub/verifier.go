package activitypub

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/moapub/moa/domain"
)

// Verifier authenticates inbound activities. It first checks the HTTP
// signature against the sender's published key. When that fails it falls
// back to re-fetching the activity from its id over a signed request and,
// on success, trusts the fetched copy over the delivered one.
type Verifier struct {
	resolver *Resolver
	client   *Client
}

func NewVerifier(resolver *Resolver, client *Client) *Verifier {
	return &Verifier{resolver: resolver, client: client}
}

// VerifyInbound returns the activity to process. The result is the original
// payload when the signature checks out, or the authoritative refetched copy
// when it does not. ErrGone means the origin reports the activity deleted.
func (v *Verifier) VerifyInbound(ctx context.Context, req *http.Request, activity *Activity) (*Activity, error) {
	actor, err := v.resolver.ResolveActor(ctx, activity.Actor)
	if err != nil {
		log.Printf("Verifier: Failed to resolve actor %s: %v", activity.Actor, err)
	} else {
		if _, err := VerifyRequest(req, actor.PublicKey.PublicKeyPem); err == nil {
			return activity, nil
		} else {
			log.Printf("Verifier: Signature check failed for %s: %v", activity.Actor, err)
		}
	}

	// Signature did not check out. The activity may still be genuine, so
	// fetch it back from its claimed id and trust what the origin serves.
	body, err := v.client.Get(ctx, activity.ID)
	if err != nil {
		if errors.Is(err, ErrGone) {
			return nil, ErrGone
		}
		return nil, &domain.VerificationError{
			Reason: fmt.Sprintf("signature invalid and refetch of %s failed", activity.ID),
		}
	}

	refetched, err := ParseActivity(body)
	if err != nil {
		return nil, &domain.VerificationError{
			Reason: fmt.Sprintf("refetched %s is not a valid activity", activity.ID),
		}
	}

	return refetched, nil
}
