package integration_test

const (
	dbName         = "coursehub"
	dbUser         = "test_user"
	dbPassword     = "test_password"
	dbImageName    = "postgres:17-alpine"
	cacheImageName = "redis:7"

	TestWebhookSecret = "whsec_integration"
	TestInternalToken = "integration-ops-token"

	// Seeded by testdata/catalog_up.sql.
	TestBuyerId     = 7
	TestOwnerId     = 100
	TestReferrerId  = 50
	TestCourseId    = 1
	TestCommunityId = 2
	TestCoursePrice = 10000
	TestReferral    = "ALICE"
)
