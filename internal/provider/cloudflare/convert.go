package cloudflare

import (
	"fmt"
	"strconv"
	"strings"

	cf "github.com/cloudflare/cloudflare-go/v6"
	"github.com/cloudflare/cloudflare-go/v6/dns"

	"github.com/trafegodns/trafegodns/internal/provider"
	"github.com/trafegodns/trafegodns/internal/types"
)

func recordTTL(ttl int) dns.TTL {
	if ttl > 1 {
		return dns.TTL(ttl)
	}
	return dns.TTL(1) // 1 = auto
}

// newRecordBody builds the typed request body for a create.
func newRecordBody(r types.Record) (dns.RecordNewParamsBodyUnion, error) {
	ttl := recordTTL(r.TTL)

	switch r.Type {
	case types.TypeA:
		return dns.ARecordParam{
			Name:    cf.F(r.Name),
			TTL:     cf.F(ttl),
			Type:    cf.F(dns.ARecordTypeA),
			Content: cf.F(r.Content),
			Proxied: cf.F(r.Proxied),
			Comment: cf.F(r.Comment),
		}, nil

	case types.TypeAAAA:
		return dns.AAAARecordParam{
			Name:    cf.F(r.Name),
			TTL:     cf.F(ttl),
			Type:    cf.F(dns.AAAARecordTypeAAAA),
			Content: cf.F(r.Content),
			Proxied: cf.F(r.Proxied),
			Comment: cf.F(r.Comment),
		}, nil

	case types.TypeCNAME:
		return dns.CNAMERecordParam{
			Name:    cf.F(r.Name),
			TTL:     cf.F(ttl),
			Type:    cf.F(dns.CNAMERecordTypeCNAME),
			Content: cf.F(r.Content),
			Proxied: cf.F(r.Proxied),
			Comment: cf.F(r.Comment),
		}, nil

	case types.TypeTXT:
		return dns.TXTRecordParam{
			Name:    cf.F(r.Name),
			TTL:     cf.F(ttl),
			Type:    cf.F(dns.TXTRecordTypeTXT),
			Content: cf.F(r.Content),
			Comment: cf.F(r.Comment),
		}, nil

	case types.TypeMX:
		return dns.MXRecordParam{
			Name:     cf.F(r.Name),
			TTL:      cf.F(ttl),
			Type:     cf.F(dns.MXRecordTypeMX),
			Content:  cf.F(r.Content),
			Priority: cf.F(float64(r.Priority)),
			Comment:  cf.F(r.Comment),
		}, nil

	case types.TypeNS:
		return dns.NSRecordParam{
			Name:    cf.F(r.Name),
			TTL:     cf.F(ttl),
			Type:    cf.F(dns.NSRecordTypeNS),
			Content: cf.F(r.Content),
			Comment: cf.F(r.Comment),
		}, nil

	case types.TypeSRV:
		return dns.SRVRecordParam{
			Name:    cf.F(r.Name),
			TTL:     cf.F(ttl),
			Type:    cf.F(dns.SRVRecordTypeSRV),
			Comment: cf.F(r.Comment),
			Data: cf.F(dns.SRVRecordDataParam{
				Priority: cf.F(float64(r.Priority)),
				Weight:   cf.F(float64(r.Weight)),
				Port:     cf.F(float64(r.Port)),
				Target:   cf.F(r.Content),
			}),
		}, nil

	case types.TypeCAA:
		tag := r.Tag
		if tag == "" {
			tag = "issue"
		}
		return dns.CAARecordParam{
			Name:    cf.F(r.Name),
			TTL:     cf.F(ttl),
			Type:    cf.F(dns.CAARecordTypeCAA),
			Comment: cf.F(r.Comment),
			Data: cf.F(dns.CAARecordDataParam{
				Flags: cf.F(float64(r.Flags)),
				Tag:   cf.F(tag),
				Value: cf.F(r.Content),
			}),
		}, nil

	default:
		return nil, fmt.Errorf("unsupported DNS record type %s: %w", r.Type, provider.ErrUnsupportedType)
	}
}

// updateRecordBody builds the typed request body for an update. The unions
// for create and update are distinct types in the SDK but accept the same
// concrete params.
func updateRecordBody(r types.Record) (dns.RecordUpdateParamsBodyUnion, error) {
	body, err := newRecordBody(r)
	if err != nil {
		return nil, err
	}
	update, ok := body.(dns.RecordUpdateParamsBodyUnion)
	if !ok {
		return nil, fmt.Errorf("unsupported DNS record type %s: %w", r.Type, provider.ErrUnsupportedType)
	}
	return update, nil
}

// fromAPI converts an API response to the neutral record shape. SRV content
// comes back as "weight port target"; it is split back into the aux fields so
// equality checks see them.
func fromAPI(resp *dns.RecordResponse) types.Record {
	record := types.Record{
		ExternalID: resp.ID,
		Type:       types.RecordType(resp.Type),
		Name:       types.CanonicalName(resp.Name),
		Content:    resp.Content,
		TTL:        int(resp.TTL),
		Proxied:    resp.Proxied,
		Priority:   int(resp.Priority),
		Comment:    resp.Comment,
	}

	if record.Type == types.TypeSRV {
		if weight, port, target, ok := splitSRVContent(resp.Content); ok {
			record.Weight = weight
			record.Port = port
			record.Content = target
		}
	}
	return record
}

func splitSRVContent(content string) (weight, port int, target string, ok bool) {
	fields := strings.Fields(content)
	if len(fields) != 3 {
		return 0, 0, "", false
	}
	weight, werr := strconv.Atoi(fields[0])
	port, perr := strconv.Atoi(fields[1])
	if werr != nil || perr != nil {
		return 0, 0, "", false
	}
	return weight, port, fields[2], true
}
