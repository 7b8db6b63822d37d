package main

import (
	"fmt"
	"log"

	"github.com/joho/godotenv"

	"syncverse/internal/database"
	"syncverse/internal/identity"
)

// Inspects the users table the identity store depends on: schema,
// auth-type breakdown, and saved last positions. Handy after pointing
// the relay at a new database.
func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("ℹ️ No .env file found, using environment variables")
	}

	db, err := database.Connect("")
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close(db)

	fmt.Println("✅ Connected to database")
	fmt.Println()

	table := identity.UserRecord{}.TableName()

	var hasPosition bool
	query := `
		SELECT EXISTS (
			SELECT 1
			FROM information_schema.columns
			WHERE table_name = ? AND column_name = 'position_x'
		)
	`
	if err := db.Raw(query, table).Scan(&hasPosition).Error; err != nil {
		log.Fatalf("Failed to check position columns: %v", err)
	}

	fmt.Printf("📊 Position columns exist: %v\n", hasPosition)
	fmt.Println()
	if !hasPosition {
		fmt.Println("❌ position_x/position_y missing!")
		fmt.Println("⚠️  Run the relay once so AutoMigrate adds them")
		return
	}

	type userStats struct {
		Total      int64
		Guests     int64
		WithSaved  int64
		WithoutNic int64
	}
	var stats userStats
	query = fmt.Sprintf(`
		SELECT
			COUNT(*) as total,
			COUNT(CASE WHEN auth_type = 'guest' THEN 1 END) as guests,
			COUNT(CASE WHEN position_x IS NOT NULL THEN 1 END) as with_saved,
			COUNT(CASE WHEN nickname = '' THEN 1 END) as without_nic
		FROM %s
	`, table)
	if err := db.Raw(query).Scan(&stats).Error; err != nil {
		log.Fatalf("Failed to get statistics: %v", err)
	}

	fmt.Println("📈 User Statistics:")
	fmt.Printf("  - Total users: %d\n", stats.Total)
	fmt.Printf("  - Guests: %d\n", stats.Guests)
	fmt.Printf("  - With saved position: %d\n", stats.WithSaved)
	fmt.Printf("  - Missing nickname: %d\n", stats.WithoutNic)
	fmt.Println()

	var recent []identity.UserRecord
	if err := db.Order("id DESC").Limit(10).Find(&recent).Error; err != nil {
		log.Fatalf("Failed to get recent users: %v", err)
	}

	fmt.Println("👥 Recent Users (last 10):")
	for _, u := range recent {
		pos := "none"
		if u.PositionX != nil && u.PositionY != nil {
			pos = fmt.Sprintf("(%.0f, %.0f)", *u.PositionX, *u.PositionY)
		}
		fmt.Printf("  - ID: %d, Username: %s, Nickname: %s, Auth: %s, LastPos: %s\n",
			u.ID, u.Username, u.Nickname, u.AuthType, pos)
	}
}
