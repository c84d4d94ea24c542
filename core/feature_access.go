package core

// FeatureAccessSet is the fixed set of feature gates. CrisisTools,
// EmergencyContacts and HotlineAccess are true for every reachable input.
type FeatureAccessSet struct {
	TherapeuticContent bool `json:"therapeuticContent"`
	CrisisTools        bool `json:"crisisTools"`
	EmergencyContacts  bool `json:"emergencyContacts"`
	HotlineAccess      bool `json:"hotlineAccess"`
	Assessments        bool `json:"assessments"`
	BreathingExercises bool `json:"breathingExercises"`
	PremiumFeatures    bool `json:"premiumFeatures"`
}

func FullFeatureAccess() FeatureAccessSet {
	return FeatureAccessSet{
		TherapeuticContent: true,
		CrisisTools:        true,
		EmergencyContacts:  true,
		HotlineAccess:      true,
		Assessments:        true,
		BreathingExercises: true,
		PremiumFeatures:    true,
	}
}

// ConservativeFeatureAccess is the snapshot stored on a new grace entry.
func ConservativeFeatureAccess() FeatureAccessSet {
	access := FullFeatureAccess()
	access.PremiumFeatures = false
	return access
}

func (f FeatureAccessSet) WithSafetyFeatures() FeatureAccessSet {
	f.CrisisTools = true
	f.EmergencyContacts = true
	f.HotlineAccess = true
	return f
}

func (f FeatureAccessSet) SafetyFeaturesEnabled() bool {
	return f.CrisisTools && f.EmergencyContacts && f.HotlineAccess
}

// ComputeFeatureAccess derives the feature gates for a tier. Crisis mode
// grants everything; a grace period only ever removes premium features.
func ComputeFeatureAccess(tier Tier, gracePeriodActive bool, crisisMode bool) FeatureAccessSet {
	if crisisMode {
		return FullFeatureAccess()
	}

	var access FeatureAccessSet
	switch tier.normalizedID() {
	case TierPremium, TierCrisisAccess:
		access = FullFeatureAccess()
	case TierBasic:
		access = FeatureAccessSet{
			TherapeuticContent: true,
			Assessments:        true,
			BreathingExercises: true,
		}
	default:
		access = FeatureAccessSet{Assessments: true}
	}

	if gracePeriodActive {
		access.PremiumFeatures = false
	}
	return access.WithSafetyFeatures()
}
