package route53

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	route53types "github.com/aws/aws-sdk-go-v2/service/route53/types"

	"github.com/trafegodns/trafegodns/internal/provider"
	"github.com/trafegodns/trafegodns/internal/types"
)

// withSyntheticID stamps the "name:type" external ID onto a record.
func withSyntheticID(r types.Record) types.Record {
	r.ExternalID = syntheticID(r.Name, r.Type)
	return r
}

func syntheticID(name string, recordType types.RecordType) string {
	return types.CanonicalName(name) + ":" + string(recordType)
}

func splitID(id string) (string, types.RecordType, error) {
	idx := strings.LastIndex(id, ":")
	if idx <= 0 || idx == len(id)-1 {
		return "", "", fmt.Errorf("malformed record id %q: %w", id, provider.ErrValidation)
	}
	return id[:idx], types.RecordType(id[idx+1:]), nil
}

// toRecordSet builds the Route53 record set for one record. Aux fields are
// folded into the value string the way Route53 expects: MX "prio host", SRV
// "prio weight port target", CAA "flags tag \"value\"", TXT quoted.
func toRecordSet(r types.Record) *route53types.ResourceRecordSet {
	ttl := int64(r.TTL)
	if ttl <= 1 {
		ttl = defaultTTL
	}

	var value string
	switch r.Type {
	case types.TypeTXT:
		value = strconv.Quote(r.Content)
	case types.TypeMX:
		value = fmt.Sprintf("%d %s", r.Priority, r.Content)
	case types.TypeSRV:
		value = fmt.Sprintf("%d %d %d %s", r.Priority, r.Weight, r.Port, r.Content)
	case types.TypeCAA:
		tag := r.Tag
		if tag == "" {
			tag = "issue"
		}
		value = fmt.Sprintf("%d %s %q", r.Flags, tag, r.Content)
	default:
		value = r.Content
	}

	return &route53types.ResourceRecordSet{
		Name:            aws.String(r.Name + "."),
		Type:            route53types.RRType(r.Type),
		TTL:             aws.Int64(ttl),
		ResourceRecords: []route53types.ResourceRecord{{Value: aws.String(value)}},
	}
}

// fromRecordSet expands a record set into one record per value, undoing the
// value folding from toRecordSet. Record sets of types the engine does not
// manage (SOA, apex NS) still come back from the list call and are returned
// as-is so the cache reflects the zone.
func fromRecordSet(rrs *route53types.ResourceRecordSet) []types.Record {
	name := types.CanonicalName(aws.ToString(rrs.Name))
	recordType := types.RecordType(rrs.Type)
	ttl := int(aws.ToInt64(rrs.TTL))

	records := make([]types.Record, 0, len(rrs.ResourceRecords))
	for _, rr := range rrs.ResourceRecords {
		record := types.Record{
			ExternalID: syntheticID(name, recordType),
			Type:       recordType,
			Name:       name,
			TTL:        ttl,
		}
		record = parseValue(record, aws.ToString(rr.Value))
		records = append(records, record)
	}
	return records
}

func parseValue(r types.Record, value string) types.Record {
	switch r.Type {
	case types.TypeTXT:
		if unquoted, err := strconv.Unquote(value); err == nil {
			r.Content = unquoted
		} else {
			r.Content = value
		}
	case types.TypeMX:
		fields := strings.Fields(value)
		if len(fields) == 2 {
			r.Priority, _ = strconv.Atoi(fields[0])
			r.Content = fields[1]
		} else {
			r.Content = value
		}
	case types.TypeSRV:
		fields := strings.Fields(value)
		if len(fields) == 4 {
			r.Priority, _ = strconv.Atoi(fields[0])
			r.Weight, _ = strconv.Atoi(fields[1])
			r.Port, _ = strconv.Atoi(fields[2])
			r.Content = fields[3]
		} else {
			r.Content = value
		}
	case types.TypeCAA:
		fields := strings.SplitN(value, " ", 3)
		if len(fields) == 3 {
			r.Flags, _ = strconv.Atoi(fields[0])
			r.Tag = fields[1]
			r.Content = strings.Trim(fields[2], `"`)
		} else {
			r.Content = value
		}
	default:
		r.Content = value
	}
	return r
}
