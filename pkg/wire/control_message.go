package wire

import (
	"fmt"

	"github.com/dashchat/spaces-engine/internal/codec"
	"github.com/dashchat/spaces-engine/pkg/identity"
)

// SpaceControlMessage is a content-addressed, author-attributed control
// intent processed by the space state machine (spec.md §3). Its Hash
// doubles as an OperationId there.
type SpaceControlMessage struct {
	Hash   Hash
	Author identity.ActorId
	Args   SpacesArgs
}

// NewSpaceControlMessage builds a SpaceControlMessage, computing its
// content hash over (author, args) as spec.md §3 requires.
func NewSpaceControlMessage(author identity.ActorId, args SpacesArgs) (SpaceControlMessage, error) {
	msg := SpaceControlMessage{Author: author, Args: args}
	wireArgs, err := encodeSpacesArgs(args)
	if err != nil {
		return SpaceControlMessage{}, fmt.Errorf("encode spaces args: %w", err)
	}
	bytes, err := codec.Marshal(struct {
		Author []byte
		Args   wireSpacesArgs
	}{Author: bytes32(author), Args: wireArgs})
	if err != nil {
		return SpaceControlMessage{}, fmt.Errorf("encode control message for hashing: %w", err)
	}
	msg.Hash = Sum(bytes)
	return msg, nil
}

// ID returns the message's OperationId (spec.md §3).
func (m SpaceControlMessage) ID() OperationId { return m.Hash }

// Dependencies returns the causal predecessors this message requires to
// have been processed first (spec.md Invariant 4).
func (m SpaceControlMessage) Dependencies() []OperationId {
	if m.Args == nil {
		return nil
	}
	return m.Args.Dependencies()
}

type wireSpaceControlMessage struct {
	Hash   []byte         `cbor:"hash"`
	Author []byte         `cbor:"author"`
	Args   wireSpacesArgs `cbor:"args"`
}

// MarshalCBOR implements canonical encoding of the control message.
func (m SpaceControlMessage) MarshalCBOR() ([]byte, error) {
	wireArgs, err := encodeSpacesArgs(m.Args)
	if err != nil {
		return nil, err
	}
	return codec.Marshal(wireSpaceControlMessage{
		Hash:   bytes32(m.Hash),
		Author: bytes32(m.Author),
		Args:   wireArgs,
	})
}

// UnmarshalCBOR implements the inverse of MarshalCBOR.
func (m *SpaceControlMessage) UnmarshalCBOR(data []byte) error {
	var w wireSpaceControlMessage
	if err := codec.Unmarshal(data, &w); err != nil {
		return err
	}
	hash, err := parse32(w.Hash, "hash")
	if err != nil {
		return err
	}
	author, err := parse32(w.Author, "author")
	if err != nil {
		return err
	}
	args, err := decodeSpacesArgs(w.Args)
	if err != nil {
		return err
	}
	m.Hash = hash
	m.Author = identity.ActorId(author)
	m.Args = args
	return nil
}

type wireKeyBundleArgs struct {
	KeyAgreementKey []byte `cbor:"key_agreement_key"`
}

type wireAuthControl struct {
	Kind    uint8  `cbor:"kind"`
	Subject []byte `cbor:"subject"`
	Level   uint8  `cbor:"level"`
}

type wireAuthArgs struct {
	Control          wireAuthControl `cbor:"control"`
	AuthDependencies [][]byte        `cbor:"auth_dependencies"`
}

type wireDirectMessage struct {
	Recipient    []byte `cbor:"recipient"`
	EphemeralKey []byte `cbor:"ephemeral_key"`
	Nonce        []byte `cbor:"nonce"`
	Ciphertext   []byte `cbor:"ciphertext"`
}

type wireSpaceMembershipArgs struct {
	SpaceID           []byte              `cbor:"space_id"`
	GroupID           []byte              `cbor:"group_id"`
	SpaceDependencies [][]byte            `cbor:"space_dependencies"`
	AuthMessageID     []byte              `cbor:"auth_message_id"`
	DirectMessages    []wireDirectMessage `cbor:"direct_messages"`
}

type wireSpaceUpdateArgs struct {
	SpaceID           []byte   `cbor:"space_id"`
	GroupID           []byte   `cbor:"group_id"`
	SpaceDependencies [][]byte `cbor:"space_dependencies"`
}

type wireApplicationArgs struct {
	SpaceID           []byte   `cbor:"space_id"`
	SpaceDependencies [][]byte `cbor:"space_dependencies"`
	GroupSecretID     []byte   `cbor:"group_secret_id"`
	Nonce             []byte   `cbor:"nonce"`
	Ciphertext        []byte   `cbor:"ciphertext"`
}

// wireSpacesArgs is a tagged union encoded as a CBOR map with a `type`
// discriminant and exactly one populated variant field, the same pattern
// the teacher uses to dispatch BaseFrame.Kind to a concrete body type
// (pkg/wire/frame.go's Kind-tagged PingBody/PongBody/... family), adapted
// here to round-trip through a Go interface instead of an untyped
// interface{} so decode reconstructs a concrete SpacesArgs implementation.
type wireSpacesArgs struct {
	Type            ArgType                  `cbor:"type"`
	KeyBundle       *wireKeyBundleArgs       `cbor:"key_bundle,omitempty"`
	Auth            *wireAuthArgs            `cbor:"auth,omitempty"`
	SpaceMembership *wireSpaceMembershipArgs `cbor:"space_membership,omitempty"`
	SpaceUpdate     *wireSpaceUpdateArgs     `cbor:"space_update,omitempty"`
	Application     *wireApplicationArgs     `cbor:"application,omitempty"`
}

func encodeSpacesArgs(args SpacesArgs) (wireSpacesArgs, error) {
	switch a := args.(type) {
	case KeyBundleArgs:
		return wireSpacesArgs{
			Type:      ArgKeyBundle,
			KeyBundle: &wireKeyBundleArgs{KeyAgreementKey: bytes32(a.KeyAgreementKey)},
		}, nil

	case AuthArgs:
		return wireSpacesArgs{
			Type: ArgAuth,
			Auth: &wireAuthArgs{
				Control: wireAuthControl{
					Kind:    uint8(a.Control.Kind),
					Subject: bytes32(a.Control.Subject),
					Level:   uint8(a.Control.Level),
				},
				AuthDependencies: hashList(a.AuthDependencies),
			},
		}, nil

	case SpaceMembershipArgs:
		dms := make([]wireDirectMessage, len(a.DirectMessages))
		for i, dm := range a.DirectMessages {
			dms[i] = wireDirectMessage{
				Recipient:    bytes32(dm.Recipient),
				EphemeralKey: bytes32(dm.EphemeralKey),
				Nonce:        bytes12(dm.Nonce),
				Ciphertext:   append([]byte(nil), dm.Ciphertext...),
			}
		}
		return wireSpacesArgs{
			Type: ArgSpaceMembership,
			SpaceMembership: &wireSpaceMembershipArgs{
				SpaceID:           bytes32(a.SpaceID),
				GroupID:           bytes32(a.GroupID),
				SpaceDependencies: hashList(a.SpaceDependencies),
				AuthMessageID:     bytes32(a.AuthMessageID),
				DirectMessages:    dms,
			},
		}, nil

	case SpaceUpdateArgs:
		return wireSpacesArgs{
			Type: ArgSpaceUpdate,
			SpaceUpdate: &wireSpaceUpdateArgs{
				SpaceID:           bytes32(a.SpaceID),
				GroupID:           bytes32(a.GroupID),
				SpaceDependencies: hashList(a.SpaceDependencies),
			},
		}, nil

	case ApplicationArgs:
		return wireSpacesArgs{
			Type: ArgApplication,
			Application: &wireApplicationArgs{
				SpaceID:           bytes32(a.SpaceID),
				SpaceDependencies: hashList(a.SpaceDependencies),
				GroupSecretID:     bytes32(a.GroupSecretID),
				Nonce:             bytes12(a.Nonce),
				Ciphertext:        append([]byte(nil), a.Ciphertext...),
			},
		}, nil

	default:
		return wireSpacesArgs{}, fmt.Errorf("unknown SpacesArgs implementation %T", args)
	}
}

func decodeSpacesArgs(w wireSpacesArgs) (SpacesArgs, error) {
	switch w.Type {
	case ArgKeyBundle:
		if w.KeyBundle == nil {
			return nil, fmt.Errorf("missing key_bundle variant")
		}
		key, err := parse32(w.KeyBundle.KeyAgreementKey, "key_agreement_key")
		if err != nil {
			return nil, err
		}
		return KeyBundleArgs{KeyAgreementKey: key}, nil

	case ArgAuth:
		if w.Auth == nil {
			return nil, fmt.Errorf("missing auth variant")
		}
		subject, err := parse32(w.Auth.Control.Subject, "auth.control.subject")
		if err != nil {
			return nil, err
		}
		deps, err := parseHashList(w.Auth.AuthDependencies, "auth_dependencies")
		if err != nil {
			return nil, err
		}
		return AuthArgs{
			Control: AuthControl{
				Kind:    AuthControlKind(w.Auth.Control.Kind),
				Subject: identity.ActorId(subject),
				Level:   AccessLevel(w.Auth.Control.Level),
			},
			AuthDependencies: deps,
		}, nil

	case ArgSpaceMembership:
		if w.SpaceMembership == nil {
			return nil, fmt.Errorf("missing space_membership variant")
		}
		spaceID, err := parse32(w.SpaceMembership.SpaceID, "space_id")
		if err != nil {
			return nil, err
		}
		groupID, err := parse32(w.SpaceMembership.GroupID, "group_id")
		if err != nil {
			return nil, err
		}
		spaceDeps, err := parseHashList(w.SpaceMembership.SpaceDependencies, "space_dependencies")
		if err != nil {
			return nil, err
		}
		authMsgID, err := parse32(w.SpaceMembership.AuthMessageID, "auth_message_id")
		if err != nil {
			return nil, err
		}
		dms := make([]DirectMessage, len(w.SpaceMembership.DirectMessages))
		for i, dm := range w.SpaceMembership.DirectMessages {
			recipient, err := parse32(dm.Recipient, "direct_message.recipient")
			if err != nil {
				return nil, err
			}
			eph, err := parse32(dm.EphemeralKey, "direct_message.ephemeral_key")
			if err != nil {
				return nil, err
			}
			nonce, err := parse12(dm.Nonce, "direct_message.nonce")
			if err != nil {
				return nil, err
			}
			dms[i] = DirectMessage{
				Recipient:    identity.ActorId(recipient),
				EphemeralKey: eph,
				Nonce:        nonce,
				Ciphertext:   append([]byte(nil), dm.Ciphertext...),
			}
		}
		return SpaceMembershipArgs{
			SpaceID:           ChatId(spaceID),
			GroupID:           groupID,
			SpaceDependencies: spaceDeps,
			AuthMessageID:     authMsgID,
			DirectMessages:    dms,
		}, nil

	case ArgSpaceUpdate:
		if w.SpaceUpdate == nil {
			return nil, fmt.Errorf("missing space_update variant")
		}
		spaceID, err := parse32(w.SpaceUpdate.SpaceID, "space_id")
		if err != nil {
			return nil, err
		}
		groupID, err := parse32(w.SpaceUpdate.GroupID, "group_id")
		if err != nil {
			return nil, err
		}
		spaceDeps, err := parseHashList(w.SpaceUpdate.SpaceDependencies, "space_dependencies")
		if err != nil {
			return nil, err
		}
		return SpaceUpdateArgs{SpaceID: ChatId(spaceID), GroupID: groupID, SpaceDependencies: spaceDeps}, nil

	case ArgApplication:
		if w.Application == nil {
			return nil, fmt.Errorf("missing application variant")
		}
		spaceID, err := parse32(w.Application.SpaceID, "space_id")
		if err != nil {
			return nil, err
		}
		spaceDeps, err := parseHashList(w.Application.SpaceDependencies, "space_dependencies")
		if err != nil {
			return nil, err
		}
		groupSecretID, err := parse32(w.Application.GroupSecretID, "group_secret_id")
		if err != nil {
			return nil, err
		}
		nonce, err := parse12(w.Application.Nonce, "nonce")
		if err != nil {
			return nil, err
		}
		return ApplicationArgs{
			SpaceID:           ChatId(spaceID),
			SpaceDependencies: spaceDeps,
			GroupSecretID:     groupSecretID,
			Nonce:             nonce,
			Ciphertext:        append([]byte(nil), w.Application.Ciphertext...),
		}, nil

	default:
		return nil, fmt.Errorf("unknown spaces args type %d", w.Type)
	}
}
