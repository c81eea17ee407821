package model

import "time"

// Tier is a subscription class. 0 is the free, unsubscribed tier.
type Tier int

const TierFree Tier = 0

func (t Tier) Paid() bool { return t != TierFree }

// BucketWidth is daily for paid tiers and weekly for the free tier.
func (t Tier) BucketWidth() time.Duration {
	if t.Paid() {
		return 24 * time.Hour
	}
	return 7 * 24 * time.Hour
}

// ResourceClass groups models sharing one quota bucket.
type ResourceClass string

// ClassImageUpload counts photos sent by the user, not generations.
const ClassImageUpload ResourceClass = "image_upload"

// TierLimits is the quota of one resource class for one tier.
type TierLimits struct {
	Tier         Tier
	Class        ResourceClass
	MessageLimit int64
	TokenLimit   int64
}

// TierCapabilities are the boolean gates of a tier.
type TierCapabilities struct {
	VoiceAllowed       bool
	VoiceLimitSeconds  int
	ImageUploadAllowed bool
	ImageUploadLimit   int64 // per usage window; 0 means unlimited
	FileUploadAllowed  bool
	CustomRoles        bool
	DocAnswers         bool
	ImageGeneration    bool
	ImageFileOutput    bool
}

// CapabilityTable maps configured tiers to their gates.
type CapabilityTable map[Tier]TierCapabilities

// For returns the gates of tier, falling back to the nearest lower
// configured tier. An empty table denies everything.
func (t CapabilityTable) For(tier Tier) TierCapabilities {
	best, found := Tier(-1), false
	for k := range t {
		if k <= tier && k > best {
			best, found = k, true
		}
	}
	if !found {
		return TierCapabilities{}
	}
	return t[best]
}
