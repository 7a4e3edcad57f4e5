package core

import "github.com/shopspring/decimal"

// DefaultCategories is the category set a fresh install starts with.
func DefaultCategories() []Category {
	return []Category{
		{ID: "1", Name: "Food & Dining", BudgetPercentage: 30},
		{ID: "2", Name: "Transportation", BudgetPercentage: 20},
		{ID: "3", Name: "Entertainment", BudgetPercentage: 15},
		{ID: "4", Name: "Shopping", BudgetPercentage: 15},
		{ID: "5", Name: "Bills & Utilities", BudgetPercentage: 20},
	}
}

func DefaultBudgetSettings() BudgetSettings {
	return BudgetSettings{
		MonthlyBudget:        decimal.NewFromInt(2500),
		AlertThreshold:       80,
		NotificationsEnabled: true,
	}
}

func DefaultProfile() UserProfile {
	return UserProfile{}
}
