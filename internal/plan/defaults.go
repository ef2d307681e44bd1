package plan

import "time"

// DefaultSpec is used when no plan file is present.
func DefaultSpec() Spec {
	return Spec{
		Currency:                   "UGX",
		QualifyingTransactionTypes: []string{"subscription", "renewal", "upgrade"},
		GraceMonths:                3,
		PermanentGraceMonths:       6,
		MaintenanceInterval:        30 * 24 * time.Hour,
		Tiers: []TierSpec{
			{
				Code:       "starter",
				Name:       "Starter",
				Rank:       1,
				MonthlyFee: "50000",
				LevelRates: []string{"10", "5", "3", "2", "1"},
			},
			{
				Code:                 "bronze",
				Name:                 "Bronze",
				Rank:                 2,
				MonthlyFee:           "100000",
				LevelRates:           []string{"12", "6", "4", "2", "1"},
				TeamVolumeBonuses:    []ThresholdSpec{{Min: "1000000", Rate: "1"}, {Min: "5000000", Rate: "2"}},
				PerformanceBonuses:   []ThresholdSpec{{Min: "5", Rate: "0.5"}, {Min: "10", Rate: "1"}},
				RequiredReferrals:    3,
				RequiredTeamVolume:   "1000000",
				AchievementBonus:     "50000",
				PermanentAfterMonths: 6,
			},
			{
				Code:               "silver",
				Name:               "Silver",
				Rank:               3,
				MonthlyFee:         "250000",
				LevelRates:         []string{"15", "8", "5", "3", "2"},
				TeamVolumeBonuses:  []ThresholdSpec{{Min: "5000000", Rate: "2"}, {Min: "20000000", Rate: "3"}},
				PerformanceBonuses: []ThresholdSpec{{Min: "10", Rate: "1"}, {Min: "25", Rate: "1.5"}},
				LeadershipLevels: []LeadershipSpec{
					{Level: 1, MinDirectReferrals: 10, MinTeamDepth: 3, MinTeamVolume: "10000000", Rate: "1"},
				},
				RequiredReferrals:    8,
				RequiredTeamVolume:   "5000000",
				AchievementBonus:     "150000",
				PermanentAfterMonths: 6,
			},
			{
				Code:               "gold",
				Name:               "Gold",
				Rank:               4,
				MonthlyFee:         "500000",
				LevelRates:         []string{"18", "10", "6", "4", "2"},
				TeamVolumeBonuses:  []ThresholdSpec{{Min: "20000000", Rate: "3"}, {Min: "50000000", Rate: "4"}},
				PerformanceBonuses: []ThresholdSpec{{Min: "25", Rate: "1.5"}, {Min: "50", Rate: "2"}},
				LeadershipLevels: []LeadershipSpec{
					{Level: 1, MinDirectReferrals: 10, MinTeamDepth: 3, MinTeamVolume: "10000000", Rate: "1"},
					{Level: 2, MinDirectReferrals: 20, MinTeamDepth: 4, MinTeamVolume: "30000000", Rate: "2"},
					{Level: 3, MinDirectReferrals: 40, MinTeamDepth: 5, MinTeamVolume: "80000000", Rate: "3"},
				},
				RequiredReferrals:    20,
				RequiredTeamVolume:   "20000000",
				AchievementBonus:     "500000",
				PermanentAfterMonths: 6,
			},
		},
		Rewards: []RewardSpec{
			{
				Code:                       "smartphone",
				Name:                       "Smartphone",
				RequiredTiers:              []string{"silver", "gold"},
				RequiredActiveReferrals:    8,
				RequiredTeamVolume:         "5000000",
				RequiredTeamDepth:          2,
				RequiredSubscriptionAmount: "250000",
				RequiredSustainedMonths:    3,
				InitialQuantity:            100,
				MaintenanceGraceDays:       60,
			},
			{
				Code:                       "motorbike",
				Name:                       "Motorbike",
				RequiredTiers:              []string{"gold"},
				RequiredActiveReferrals:    20,
				RequiredTeamVolume:         "20000000",
				RequiredTeamDepth:          4,
				RequiredSubscriptionAmount: "500000",
				RequiredSustainedMonths:    6,
				InitialQuantity:            10,
				MaintenanceGraceDays:       90,
			},
		},
	}
}

// Default builds DefaultSpec. It panics only if the built-in spec is invalid.
func Default() Plan {
	p, err := Build(DefaultSpec())
	if err != nil {
		panic(err)
	}
	return p
}
