package quota

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/mahm0udsaad/sufrah-bot-sub000/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := gdb.AutoMigrate(&models.ConversationSession{}, &models.MonthlyUsage{}, &models.QuotaAdjustment{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return gdb
}

func testResolver() *StaticResolver {
	return NewStaticResolver(map[string]int{
		"FREE": 1000,
		"PRO":  Unlimited,
	}, "FREE")
}

func testLedger(t *testing.T) (*Ledger, *gorm.DB) {
	t.Helper()
	gdb := testDB(t)
	return NewLedger(gdb, testResolver(), 90), gdb
}

func usageRow(t *testing.T, gdb *gorm.DB, tenantID string, now time.Time) models.MonthlyUsage {
	t.Helper()
	var row models.MonthlyUsage
	err := gdb.Where("tenant_id = ? AND month = ? AND year = ?", tenantID, int(now.Month()), now.Year()).
		First(&row).Error
	if err != nil {
		t.Fatalf("load usage row: %v", err)
	}
	return row
}

func TestTrackUsage_NewSessionIncrements(t *testing.T) {
	l, gdb := testLedger(t)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	if err := l.TrackUsage("t1", true, now); err != nil {
		t.Fatalf("first: %v", err)
	}
	if err := l.TrackUsage("t1", true, now.Add(time.Hour)); err != nil {
		t.Fatalf("second: %v", err)
	}

	row := usageRow(t, gdb, "t1", now)
	if row.ConversationCount != 2 {
		t.Errorf("ConversationCount = %d, want 2", row.ConversationCount)
	}
	if row.LastConversationAt == nil || !row.LastConversationAt.Equal(now.Add(time.Hour)) {
		t.Errorf("LastConversationAt = %v, want %v", row.LastConversationAt, now.Add(time.Hour))
	}
}

func TestTrackUsage_ExistingSessionIsNotUsage(t *testing.T) {
	l, gdb := testLedger(t)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	if err := l.TrackUsage("t1", true, now); err != nil {
		t.Fatalf("new session: %v", err)
	}
	// Messages inside the window report isNewSession=false; the count must
	// not move.
	for i := 0; i < 5; i++ {
		if err := l.TrackUsage("t1", false, now.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatalf("message %d: %v", i, err)
		}
	}

	row := usageRow(t, gdb, "t1", now)
	if row.ConversationCount != 1 {
		t.Errorf("ConversationCount = %d, want 1", row.ConversationCount)
	}
}

func TestTrackUsage_MonthRolloverStartsFreshRow(t *testing.T) {
	l, gdb := testLedger(t)
	march := time.Date(2026, 3, 31, 23, 0, 0, 0, time.UTC)
	april := time.Date(2026, 4, 1, 1, 0, 0, 0, time.UTC)

	if err := l.TrackUsage("t1", true, march); err != nil {
		t.Fatalf("march: %v", err)
	}
	if err := l.TrackUsage("t1", true, april); err != nil {
		t.Fatalf("april: %v", err)
	}

	if got := usageRow(t, gdb, "t1", march).ConversationCount; got != 1 {
		t.Errorf("march count = %d, want 1", got)
	}
	aprilRow := usageRow(t, gdb, "t1", april)
	if aprilRow.ConversationCount != 1 {
		t.Errorf("april count = %d, want 1", aprilRow.ConversationCount)
	}
	if aprilRow.AdjustedBy != 0 {
		t.Errorf("april AdjustedBy = %d, want 0 (fresh row)", aprilRow.AdjustedBy)
	}
}

func TestTrackSession_CountsExactlyOnce(t *testing.T) {
	l, gdb := testLedger(t)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	sess := models.ConversationSession{
		ID:             "s1",
		TenantID:       "t1",
		CounterpartyID: "c1",
		WindowStart:    now,
		WindowEnd:      now.Add(24 * time.Hour),
		MessageCount:   1,
	}
	if err := gdb.Create(&sess).Error; err != nil {
		t.Fatalf("seed session: %v", err)
	}

	counted, err := l.TrackSession("t1", "s1", now)
	if err != nil {
		t.Fatalf("first track: %v", err)
	}
	if !counted {
		t.Error("first TrackSession counted = false, want true")
	}

	// A second path confirming the same session must be a no-op.
	counted, err = l.TrackSession("t1", "s1", now.Add(time.Second))
	if err != nil {
		t.Fatalf("second track: %v", err)
	}
	if counted {
		t.Error("second TrackSession counted = true, want false")
	}

	if got := usageRow(t, gdb, "t1", now).ConversationCount; got != 1 {
		t.Errorf("ConversationCount = %d, want 1", got)
	}
}

func TestTrackSession_FaultRollsBackFlag(t *testing.T) {
	l, gdb := testLedger(t)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	sess := models.ConversationSession{
		ID:             "s1",
		TenantID:       "t1",
		CounterpartyID: "c1",
		WindowStart:    now,
		WindowEnd:      now.Add(24 * time.Hour),
		MessageCount:   1,
	}
	if err := gdb.Create(&sess).Error; err != nil {
		t.Fatalf("seed session: %v", err)
	}

	// Break the ledger increment mid-flight.
	if err := gdb.Migrator().DropTable(&models.MonthlyUsage{}); err != nil {
		t.Fatalf("drop table: %v", err)
	}
	if _, err := l.TrackSession("t1", "s1", now); err == nil {
		t.Fatal("expected error with the ledger table gone")
	}

	// The consumed flag must have rolled back with the failed increment, so
	// a retry still counts the session.
	if err := gdb.Migrator().CreateTable(&models.MonthlyUsage{}); err != nil {
		t.Fatalf("restore table: %v", err)
	}
	counted, err := l.TrackSession("t1", "s1", now)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if !counted {
		t.Error("retry counted = false, want true")
	}
	if got := usageRow(t, gdb, "t1", now).ConversationCount; got != 1 {
		t.Errorf("ConversationCount = %d, want 1", got)
	}
}

func TestTrackSession_UnknownSession(t *testing.T) {
	l, _ := testLedger(t)
	_, err := l.TrackSession("t1", "nope", time.Now())
	if err == nil {
		t.Fatal("expected error for unknown session")
	}
	if !strings.Contains(err.Error(), "session not found") {
		t.Errorf("error = %q, want to mention session not found", err.Error())
	}
}

func TestRenew_Accumulates(t *testing.T) {
	l, gdb := testLedger(t)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	if err := l.Renew("t1", 1000, "promo", now); err != nil {
		t.Fatalf("first renew: %v", err)
	}
	if err := l.Renew("t1", 1000, "promo again", now.Add(time.Hour)); err != nil {
		t.Fatalf("second renew: %v", err)
	}

	if got := usageRow(t, gdb, "t1", now).AdjustedBy; got != 2000 {
		t.Errorf("AdjustedBy = %d, want 2000", got)
	}

	st, err := l.GetStatus("t1", now)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.Limit != 3000 {
		t.Errorf("effective limit = %d, want planLimit+2000 = 3000", st.Limit)
	}

	var audits int64
	gdb.Model(&models.QuotaAdjustment{}).Where("tenant_id = ?", "t1").Count(&audits)
	if audits != 2 {
		t.Errorf("audit rows = %d, want 2", audits)
	}
}

func TestRenew_RejectsNonPositive(t *testing.T) {
	l, _ := testLedger(t)
	if err := l.Renew("t1", 0, "zero", time.Now()); err == nil {
		t.Fatal("expected error for zero amount")
	}
	if err := l.Renew("t1", -5, "negative", time.Now()); err == nil {
		t.Fatal("expected error for negative amount")
	}
}

func TestGetStatus_NoUsageYet(t *testing.T) {
	l, _ := testLedger(t)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	st, err := l.GetStatus("t1", now)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.Used != 0 || st.Limit != 1000 || st.Remaining != 1000 {
		t.Errorf("status = used %d limit %d remaining %d, want 0/1000/1000", st.Used, st.Limit, st.Remaining)
	}
	wantReset := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	if !st.ResetDate.Equal(wantReset) {
		t.Errorf("ResetDate = %v, want %v", st.ResetDate, wantReset)
	}
	if st.DaysUntilReset != 22 {
		t.Errorf("DaysUntilReset = %d, want 22", st.DaysUntilReset)
	}
}

func TestGetStatus_UnlimitedPlan(t *testing.T) {
	l, _ := testLedger(t)
	res := l.plans.(*StaticResolver)
	res.Assign("t1", "PRO")
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	if err := l.TrackUsage("t1", true, now); err != nil {
		t.Fatalf("track: %v", err)
	}
	st, err := l.GetStatus("t1", now)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !st.Unlimited {
		t.Error("Unlimited = false, want true")
	}
	if st.NearingQuota {
		t.Error("NearingQuota = true, want false for unlimited plan")
	}
	if st.ResetDate.IsZero() {
		t.Error("ResetDate not computed for unlimited plan")
	}
}

func TestGetStatus_NearingQuota(t *testing.T) {
	l, gdb := testLedger(t)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	seed := models.MonthlyUsage{TenantID: "t1", Month: 3, Year: 2026, ConversationCount: 900}
	if err := gdb.Create(&seed).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}

	st, err := l.GetStatus("t1", now)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.UsagePercent != 90 {
		t.Errorf("UsagePercent = %d, want 90", st.UsagePercent)
	}
	if !st.NearingQuota {
		t.Error("NearingQuota = false, want true at 90%")
	}
}

func TestListNearingQuota(t *testing.T) {
	l, gdb := testLedger(t)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	res := l.plans.(*StaticResolver)
	res.Assign("unlimited-tenant", "PRO")

	rows := []models.MonthlyUsage{
		{TenantID: "hot", Month: 3, Year: 2026, ConversationCount: 950},
		{TenantID: "warm", Month: 3, Year: 2026, ConversationCount: 700},
		{TenantID: "unlimited-tenant", Month: 3, Year: 2026, ConversationCount: 99999},
	}
	for i := range rows {
		if err := gdb.Create(&rows[i]).Error; err != nil {
			t.Fatalf("seed %s: %v", rows[i].TenantID, err)
		}
	}

	out, err := l.ListNearingQuota(90, now)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(out) != 1 || out[0].TenantID != "hot" {
		t.Fatalf("nearing = %+v, want exactly tenant hot", out)
	}

	// Lower threshold pulls in the warm tenant; unlimited never appears.
	out, err = l.ListNearingQuota(50, now)
	if err != nil {
		t.Fatalf("list at 50: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("nearing at 50%% = %d tenants, want 2", len(out))
	}
}

func TestDaysUntil(t *testing.T) {
	now := time.Date(2026, 3, 31, 12, 0, 0, 0, time.UTC)
	if got := daysUntil(now, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)); got != 1 {
		t.Errorf("half a day = %d days, want 1", got)
	}
	if got := daysUntil(now, now); got != 0 {
		t.Errorf("same instant = %d days, want 0", got)
	}
}
