package mockapi

import (
	"fmt"
)

// Seeded logins. Both accounts use SeedPassword.
const (
	SeedPassword = "password123"
	FarmerEmail  = "farmer@example.com"
	TestEmail    = "test@example.com"
	// SeedPostCount is the number of seeded posts, enough for three feed pages of 20.
	SeedPostCount = 45
)

var seedCategories = []string{"crops", "livestock", "equipment", "weather", "market"}

// Seed fills an empty platform with the demo accounts, a feed, two
// communities and one unread conversation.
func (p *Platform) Seed() error {
	farmer, err := p.Register(Registration{
		Username: "farmer_joe",
		Email:    FarmerEmail,
		Password: SeedPassword,
		UserType: "farmer",
		FullName: "Joe Farmer",
		Location: "Ames, Iowa",
	})
	if err != nil {
		return fmt.Errorf("mockapi: seed farmer: %w", err)
	}
	tester, err := p.Register(Registration{
		Username: "test_user",
		Email:    TestEmail,
		Password: SeedPassword,
		UserType: "expert",
		FullName: "Test Agronomist",
		Bio:      "Soil health and irrigation.",
	})
	if err != nil {
		return fmt.Errorf("mockapi: seed test user: %w", err)
	}

	for index := 1; index <= SeedPostCount; index++ {
		author := farmer.ID
		if index%3 == 0 {
			author = tester.ID
		}
		category := seedCategories[index%len(seedCategories)]
		_, err := p.CreatePost(author, NewPost{
			Title:    fmt.Sprintf("Field note %d", index),
			Content:  fmt.Sprintf("Observations from week %d of the %s season.", index, category),
			Category: category,
			Tags:     []string{category, "fieldnote"},
		})
		if err != nil {
			return fmt.Errorf("mockapi: seed post %d: %w", index, err)
		}
	}

	growers, err := p.CreateCommunity(farmer.ID, NewCommunity{
		Name:        "Organic Growers",
		Description: "Certified organic practices and market access.",
		Public:      true,
	})
	if err != nil {
		return fmt.Errorf("mockapi: seed community: %w", err)
	}
	if _, _, err := p.ToggleMembership(tester.ID, growers.ID); err != nil {
		return fmt.Errorf("mockapi: seed membership: %w", err)
	}
	if _, err := p.CreateCommunity(tester.ID, NewCommunity{
		Name:        "Dairy Network",
		Description: "Herd health, feed and milk pricing.",
		Public:      true,
	}); err != nil {
		return fmt.Errorf("mockapi: seed community: %w", err)
	}

	if _, err := p.SendMessage(tester.ID, farmer.ID, "Any tips for the dry spell?"); err != nil {
		return fmt.Errorf("mockapi: seed message: %w", err)
	}
	return nil
}
