package database

import (
	"errors"
	"fmt"
	"net/netip"
	"time"
)

// ErrInvalidAddress reports input that is not an IPv4/IPv6 literal.
var ErrInvalidAddress = errors.New("invalid address")

// ErrPrefixTooLarge reports a CIDR prefix expanding past the host limit.
var ErrPrefixTooLarge = errors.New("prefix expands to too many hosts")

// Target is one tracked address. Address is the natural key.
type Target struct {
	Address string
	Label   string
	AddedAt time.Time
}

// AddTarget validates address as an IP literal and upserts it into the
// tracked set. Re-adding an existing address keeps its insertion position
// and takes the new label.
func (s *Store) AddTarget(address, label string) error {
	addr, err := netip.ParseAddr(address)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	_, err = s.db.Exec(`
		INSERT INTO targets (address, label, created_at) VALUES (?, ?, ?)
		ON CONFLICT(address) DO UPDATE SET label=excluded.label`,
		addr.Unmap().String(), label, time.Now().UTC().UnixMicro())
	if err != nil {
		return fmt.Errorf("add target: %w", err)
	}
	return nil
}

// RemoveAllTargets clears the tracked set. Ping history is kept.
func (s *Store) RemoveAllTargets() error {
	if _, err := s.db.Exec(`DELETE FROM targets`); err != nil {
		return fmt.Errorf("remove targets: %w", err)
	}
	return nil
}

// ListTargets returns the tracked set in insertion order.
func (s *Store) ListTargets() ([]Target, error) {
	rows, err := s.db.Query(`SELECT address, label, created_at FROM targets ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	defer rows.Close()

	var targets []Target
	for rows.Next() {
		var t Target
		var createdAt int64
		if err := rows.Scan(&t.Address, &t.Label, &createdAt); err != nil {
			return nil, err
		}
		t.AddedAt = time.UnixMicro(createdAt).UTC()
		targets = append(targets, t)
	}
	return targets, rows.Err()
}

// ExpandPrefix expands a CIDR prefix into its host addresses, mirroring the
// usual ping-sweep convention: the network and broadcast addresses are
// skipped for IPv4 prefixes shorter than /31. limit caps the expansion so a
// mistyped /8 cannot flood the registry.
func ExpandPrefix(cidr string, limit int) ([]string, error) {
	prefix, err := netip.ParsePrefix(cidr)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, cidr)
	}
	prefix = prefix.Masked()

	hostBits := prefix.Addr().BitLen() - prefix.Bits()
	if hostBits > 20 {
		return nil, fmt.Errorf("%w: %s", ErrPrefixTooLarge, cidr)
	}
	count := 1 << hostBits

	skipEdges := prefix.Addr().Is4() && prefix.Bits() < 31
	var hosts []string
	addr := prefix.Addr()
	for i := 0; i < count; i++ {
		if !skipEdges || (i != 0 && i != count-1) {
			hosts = append(hosts, addr.String())
		}
		addr = addr.Next()
	}
	if len(hosts) > limit {
		return nil, fmt.Errorf("%w: %s (%d hosts, limit %d)", ErrPrefixTooLarge, cidr, len(hosts), limit)
	}
	return hosts, nil
}
