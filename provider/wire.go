package provider

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/edgeflux/flagresolver/value"
)

// The guest's business-level resolve schema is an external interface the
// host treats as opaque beyond the generic Request/Response envelope
// wasmguest implements. This file defines this host's own concrete
// encoding of the resolve request/response payload that rides inside that
// envelope, modeled directly on the reference provider's
// ResolveWithStickyRequest/Response (provider.py/wasm_resolver.py): a single
// flag name, the client secret, an evaluation context, and a sticky
// fail-fast flag going out; either a resolved flag or a "missing
// materializations" marker coming back.
const (
	reqFieldFlagKey        protowire.Number = 1
	reqFieldClientSecret   protowire.Number = 2
	reqFieldApply          protowire.Number = 3
	reqFieldContext        protowire.Number = 4
	reqFieldFailFastSticky protowire.Number = 5

	respFieldMissingMaterializations protowire.Number = 1
	respFieldFlag                    protowire.Number = 2
	respFieldValue                   protowire.Number = 3
	respFieldReason                  protowire.Number = 4
	respFieldVariant                 protowire.Number = 5
)

// encodeResolveRequest builds the wire payload sent to the guest's resolve
// entry point.
func encodeResolveRequest(flagKey, clientSecret string, evalCtx map[string]any) ([]byte, error) {
	var ctxBytes []byte
	if len(evalCtx) > 0 {
		s, err := structpb.NewStruct(evalCtx)
		if err != nil {
			return nil, fmt.Errorf("provider: convert evaluation context: %w", err)
		}
		ctxBytes, err = proto.Marshal(s)
		if err != nil {
			return nil, fmt.Errorf("provider: marshal evaluation context: %w", err)
		}
	}

	var b []byte
	b = protowire.AppendTag(b, reqFieldFlagKey, protowire.BytesType)
	b = protowire.AppendString(b, flagKey)
	b = protowire.AppendTag(b, reqFieldClientSecret, protowire.BytesType)
	b = protowire.AppendString(b, clientSecret)
	b = protowire.AppendTag(b, reqFieldApply, protowire.VarintType)
	b = protowire.AppendVarint(b, 1)
	if ctxBytes != nil {
		b = protowire.AppendTag(b, reqFieldContext, protowire.BytesType)
		b = protowire.AppendBytes(b, ctxBytes)
	}
	b = protowire.AppendTag(b, reqFieldFailFastSticky, protowire.VarintType)
	b = protowire.AppendVarint(b, 1)
	return b, nil
}

// resolvedFlag is the decoded form of a successful resolve response.
type resolvedFlag struct {
	missingMaterializations bool
	flag                    string
	found                   bool
	value                   *structpb.Value
	reason                  int32
	variant                 string
}

func decodeResolveResponse(buf []byte) (resolvedFlag, error) {
	var out resolvedFlag
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return out, fmt.Errorf("provider: decode resolve response: malformed tag: %w", protowire.ParseError(n))
		}
		buf = buf[n:]
		switch {
		case num == respFieldMissingMaterializations && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(buf)
			if n < 0 {
				return out, fmt.Errorf("provider: decode resolve response: malformed missing_materializations: %w", protowire.ParseError(n))
			}
			out.missingMaterializations = v != 0
			buf = buf[n:]
		case num == respFieldFlag && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(buf)
			if n < 0 {
				return out, fmt.Errorf("provider: decode resolve response: malformed flag: %w", protowire.ParseError(n))
			}
			out.flag = v
			out.found = true
			buf = buf[n:]
		case num == respFieldValue && typ == protowire.BytesType:
			raw, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return out, fmt.Errorf("provider: decode resolve response: malformed value: %w", protowire.ParseError(n))
			}
			var sv structpb.Value
			if err := proto.Unmarshal(raw, &sv); err != nil {
				return out, fmt.Errorf("provider: unmarshal resolved value: %w", err)
			}
			out.value = &sv
			buf = buf[n:]
		case num == respFieldReason && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(buf)
			if n < 0 {
				return out, fmt.Errorf("provider: decode resolve response: malformed reason: %w", protowire.ParseError(n))
			}
			out.reason = int32(v)
			buf = buf[n:]
		case num == respFieldVariant && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(buf)
			if n < 0 {
				return out, fmt.Errorf("provider: decode resolve response: malformed variant: %w", protowire.ParseError(n))
			}
			out.variant = v
			buf = buf[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, buf)
			if n < 0 {
				return out, fmt.Errorf("provider: decode resolve response: malformed field %d: %w", num, protowire.ParseError(n))
			}
			buf = buf[n:]
		}
	}
	return out, nil
}

// structpbToValue converts a *structpb.Value into this module's own tagged
// Value union, matching the reference provider's _value_to_python /
// _struct_to_dict conversion. Numbers stay float64 here; the int coercion
// happens at the accessor layer, where value.Value.Int64 truncates.
func structpbToValue(v *structpb.Value) value.Value {
	if v == nil {
		return value.Null()
	}
	switch v.GetKind().(type) {
	case *structpb.Value_NullValue:
		return value.Null()
	case *structpb.Value_BoolValue:
		return value.NewBool(v.GetBoolValue())
	case *structpb.Value_NumberValue:
		return value.NewNumber(v.GetNumberValue())
	case *structpb.Value_StringValue:
		return value.NewString(v.GetStringValue())
	case *structpb.Value_ListValue:
		items := v.GetListValue().GetValues()
		out := make([]value.Value, len(items))
		for i, item := range items {
			out[i] = structpbToValue(item)
		}
		return value.NewList(out)
	case *structpb.Value_StructValue:
		fields := v.GetStructValue().GetFields()
		out := make(map[string]value.Value, len(fields))
		for k, fv := range fields {
			out[k] = structpbToValue(fv)
		}
		return value.NewMap(out)
	default:
		return value.Null()
	}
}
