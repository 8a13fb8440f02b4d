package integration_test

const (
	dbName         = "cinema_booking"
	dbUser         = "test_user"
	dbPassword     = "test_password"
	dbImageName    = "postgres:17-alpine"
	cacheImageName = "redis:7"
)

const (
	TestUserId    = 1
	TestUserEmail = "test@example.com"
	OtherUserId   = 2

	TestShowtimeId = 1
	// TestForeignSeatId belongs to a hall the test showtime does not play in.
	TestForeignSeatId = 4

	TestPopcornId = 1
	TestSodaId    = 2
	// TestNachosId is listed in the catalog but not available.
	TestNachosId = 3
)
