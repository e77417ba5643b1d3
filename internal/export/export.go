package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"

	"partner-bot/internal/repo"
)

const dateLayout = "2006-01-02 15:04:05"

var (
	partnerHeader    = []string{"partner_id", "username", "full_name", "promo_code", "referrals", "balance", "active", "registered_at"}
	withdrawalHeader = []string{"request_id", "partner_id", "username", "full_name", "amount", "requisites", "comment", "created_at"}
)

// PartnersCSV renders every partner as CSV.
func PartnersCSV(partners []repo.Partner) ([]byte, error) {
	rows := make([][]string, 0, len(partners)+1)
	rows = append(rows, partnerHeader)
	for _, p := range partners {
		active := "no"
		if p.IsActive {
			active = "yes"
		}
		rows = append(rows, []string{
			strconv.FormatInt(p.UserID, 10),
			deref(p.Username),
			p.FullName,
			deref(p.PromoCode),
			strconv.Itoa(p.Referrals),
			p.Balance.StringFixed(2),
			active,
			p.RegisteredAt.Format(dateLayout),
		})
	}
	return write(rows)
}

// WithdrawalsCSV renders withdrawal requests as CSV.
func WithdrawalsCSV(withdrawals []repo.Withdrawal) ([]byte, error) {
	rows := make([][]string, 0, len(withdrawals)+1)
	rows = append(rows, withdrawalHeader)
	for _, w := range withdrawals {
		rows = append(rows, []string{
			strconv.FormatInt(w.ID, 10),
			strconv.FormatInt(w.UserID, 10),
			deref(w.Username),
			w.FullName,
			w.Amount.StringFixed(2),
			w.Requisites,
			deref(w.Comment),
			w.CreatedAt.Format(dateLayout),
		})
	}
	return write(rows)
}

// FileName builds a dated export file name.
func FileName(prefix string, at time.Time) string {
	return fmt.Sprintf("%s_%s.csv", prefix, at.Format("20060102_150405"))
}

func write(rows [][]string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.WriteAll(rows); err != nil {
		return nil, fmt.Errorf("write csv: %w", err)
	}
	return buf.Bytes(), nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
