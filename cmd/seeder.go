package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/frahmantamala/rental-management/internal/auth"
	"github.com/frahmantamala/rental-management/internal/core/datamodel/customer"
	"github.com/frahmantamala/rental-management/internal/core/datamodel/item"
	"github.com/frahmantamala/rental-management/internal/core/datamodel/payment"
	"github.com/frahmantamala/rental-management/internal/core/datamodel/reservation"
	"github.com/frahmantamala/rental-management/internal/core/datamodel/user"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with sample data",
	Long:  `Seed the database with sample users and rental records for development and testing purposes.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig(".")
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}

		app, err := buildApp(cfg)
		if err != nil {
			log.Fatalf("failed to init app: %v", err)
		}
		defer app.Close(context.Background())

		db := app.Gorm

		if clearData {
			// approval_requests reference users, reservations reference customers and items
			for _, table := range []string{"approval_requests", "payments", "reservations", "costs", "items", "customers", "users"} {
				if err := db.Exec("DELETE FROM " + table).Error; err != nil {
					log.Fatalf("failed to clear %s: %v", table, err)
				}
			}
			fmt.Println("Cleared existing data")
		}

		hash, err := bcrypt.GenerateFromPassword([]byte("password"), cfg.Security.BCryptCost)
		if err != nil {
			log.Fatalf("failed to hash password: %v", err)
		}

		users := []user.User{
			{Email: "padil@mail.com", Name: "Padil Admin", Role: auth.RoleAdmin.String()},
			{Email: "rina@mail.com", Name: "Rina Manager", Role: auth.RoleManager.String()},
			{Email: "fadhil@mail.com", Name: "Fadhil", Role: auth.RoleEmployee.String()},
		}
		for _, u := range users {
			u.PasswordHash = string(hash)
			u.IsActive = true

			res := db.Where(user.User{Email: u.Email}).FirstOrCreate(&u)
			if res.Error != nil {
				log.Fatalf("failed to seed user %s: %v", u.Email, res.Error)
			}
			if res.RowsAffected == 0 {
				fmt.Println("user already exists:", u.Email)
				continue
			}
			fmt.Printf("Seeded %s user: %s\n", u.Role, u.Email)
		}

		var existing int64
		if err := db.Model(&reservation.Reservation{}).Count(&existing).Error; err != nil {
			log.Fatalf("failed to count reservations: %v", err)
		}
		if existing > 0 {
			fmt.Println("reservations already present; skipping rental records")
			return
		}

		reservations, err := seedRentals(db)
		if err != nil {
			log.Fatalf("failed to seed rental records: %v", err)
		}

		ctx := context.Background()
		for _, r := range reservations {
			result, err := app.Reconciliation.Reconcile(ctx, r.ID)
			if err != nil {
				log.Fatalf("failed to reconcile reservation %s: %v", r.ID, err)
			}
			fmt.Printf("Reservation %s: remaining %s (%s)\n", r.ID, result.RemainingBalance.StringFixed(2), result.PaymentStatus)
		}

		fmt.Println("Rental records seeded successfully")
	},
}

func seedRentals(db *gorm.DB) ([]reservation.Reservation, error) {
	var seeded []reservation.Reservation

	err := db.Transaction(func(tx *gorm.DB) error {
		customers := []customer.Customer{
			{Name: "Budi Santoso", Email: "budi@mail.com", Phone: "+62811000001", Address: "Jl. Merdeka 1, Bandung"},
			{Name: "Sari Wulandari", Email: "sari@mail.com", Phone: "+62811000002", Address: "Jl. Sudirman 9, Jakarta"},
		}
		if err := tx.Create(&customers).Error; err != nil {
			return fmt.Errorf("customers: %w", err)
		}

		items := []item.Item{
			{Name: "Camping Tent 4P", SKU: "TENT-4P", Category: "outdoor", DailyRate: decimal.RequireFromString("75000"), Quantity: 6},
			{Name: "Mirrorless Camera", SKU: "CAM-ML1", Category: "electronics", DailyRate: decimal.RequireFromString("250000"), Quantity: 2},
		}
		if err := tx.Create(&items).Error; err != nil {
			return fmt.Errorf("items: %w", err)
		}

		start := time.Now().Truncate(24 * time.Hour)
		seeded = []reservation.Reservation{
			{CustomerID: customers[0].ID, ItemID: items[0].ID, StartDate: start, EndDate: start.AddDate(0, 0, 3), Total: decimal.RequireFromString("225000")},
			{CustomerID: customers[1].ID, ItemID: items[1].ID, StartDate: start, EndDate: start.AddDate(0, 0, 2), Total: decimal.RequireFromString("500000")},
			{CustomerID: customers[1].ID, ItemID: items[0].ID, StartDate: start.AddDate(0, 0, 7), EndDate: start.AddDate(0, 0, 8), Total: decimal.RequireFromString("75000")},
		}
		for i := range seeded {
			seeded[i].RemainingBalance = seeded[i].Total
			seeded[i].PaymentStatus = reservation.PaymentStatusNotPaid
		}
		if err := tx.Create(&seeded).Error; err != nil {
			return fmt.Errorf("reservations: %w", err)
		}

		paidAt := time.Now()
		payments := []payment.Payment{
			{ReservationID: seeded[0].ID, Amount: decimal.NewNullDecimal(decimal.RequireFromString("100000")), Method: "transfer", PaidAt: &paidAt},
			{ReservationID: seeded[1].ID, Amount: decimal.NewNullDecimal(decimal.RequireFromString("500000")), Method: "cash", PaidAt: &paidAt},
		}
		if err := tx.Create(&payments).Error; err != nil {
			return fmt.Errorf("payments: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(seeded) == 0 {
		return nil, errors.New("no reservations created")
	}
	return seeded, nil
}
