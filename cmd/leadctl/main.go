// Command leadctl submits conductor work to the queue and inspects lead locks.
//
//	leadctl new-lead -tenant <id> -phone <number> -source web_form -consent pec
//	leadctl reply    -tenant <id> -lead <id> -text "tomorrow works"
//	leadctl opt-out  -tenant <id> -lead <id> -method manual
//	leadctl lease-age -tenant <id> -phone <number>
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"leadlock_backend/internal/leads"
	"leadlock_backend/internal/scheduler"
	"leadlock_backend/platform/config"
	"leadlock_backend/platform/db"
	"leadlock_backend/platform/locks"
	"leadlock_backend/platform/logger"
	"leadlock_backend/platform/phone"

	"github.com/google/uuid"
)

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}
	log := logger.New(cfg.Env)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cmd, args := os.Args[1], os.Args[2:]
	if cmd == "lease-age" {
		err = leaseAge(ctx, cfg, args)
	} else {
		err = submit(ctx, cfg, cmd, args)
	}
	if err != nil {
		log.Error("leadctl failed", "command", cmd, "error", err)
		os.Exit(1)
	}
}

func submit(ctx context.Context, cfg *config.Config, cmd string, args []string) error {
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	tenant := fs.String("tenant", "", "tenant id")
	lead := fs.String("lead", "", "lead id")
	number := fs.String("phone", "", "lead phone number")
	firstName := fs.String("first-name", "", "lead first name")
	stateCode := fs.String("state", "", "two-letter state code")
	source := fs.String("source", "manual", "lead source")
	consent := fs.String("consent", "pec", "consent basis: pec or pewc")
	text := fs.String("text", "", "message text")
	method := fs.String("method", leads.OptOutMethodManual, "opt-out method")
	messageID := fs.String("message-id", "", "provider message id")
	_ = fs.Parse(args)

	client, err := scheduler.NewClient(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	switch cmd {
	case "new-lead":
		return client.EnqueueNewLead(ctx, scheduler.NewLeadPayload{
			TenantID:     *tenant,
			Phone:        *number,
			FirstName:    *firstName,
			StateCode:    *stateCode,
			Source:       *source,
			ConsentBasis: *consent,
			InboundText:  *text,
			ReceivedAt:   time.Now().UTC(),
		})
	case "reply":
		return client.EnqueueInboundReply(ctx, scheduler.InboundReplyPayload{
			TenantID:          *tenant,
			LeadID:            *lead,
			Text:              *text,
			ProviderMessageID: *messageID,
			ReceivedAt:        time.Now().UTC(),
		})
	case "opt-out":
		return client.EnqueueOptOut(ctx, scheduler.OptOutPayload{
			TenantID:          *tenant,
			LeadID:            *lead,
			Method:            *method,
			Text:              *text,
			ProviderMessageID: *messageID,
		})
	default:
		usage()
		return nil
	}
}

func leaseAge(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("lease-age", flag.ExitOnError)
	tenant := fs.String("tenant", "", "tenant id")
	number := fs.String("phone", "", "lead phone number")
	_ = fs.Parse(args)

	tenantID, err := uuid.Parse(*tenant)
	if err != nil {
		return fmt.Errorf("tenant: %w", err)
	}
	normalized, err := phone.NormalizeE164(*number)
	if err != nil {
		return err
	}

	rdb, err := db.NewRedis(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = rdb.Close() }()

	var inspector locks.Inspector = locks.NewRedisManager(rdb, cfg.GetLockLeaseTTL(), logger.Nop())
	key := leads.LockKey(tenantID, normalized)
	age, held, err := inspector.LeaseAge(ctx, key)
	if err != nil {
		return err
	}
	if !held {
		fmt.Printf("%s: free\n", key)
		return nil
	}
	fmt.Printf("%s: held for %s\n", key, age.Round(time.Millisecond))
	return nil
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: leadctl new-lead|reply|opt-out|lease-age [flags]")
	os.Exit(2)
}
