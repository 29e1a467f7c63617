package pdu

import "fmt"

// enum is implemented by every single-octet enumeration used as a field
// value. Valid reports whether the value is inside the field's domain.
type enum interface {
	~uint8
	Valid() bool
	fmt.Stringer
}

func enumName[T ~uint8](names map[T]string, v T, kind string) string {
	if n, ok := names[v]; ok {
		return n
	}
	return fmt.Sprintf("%s(%d)", kind, uint8(v))
}

// TON is a type-of-number.
type TON uint8

const (
	TONUnknown TON = iota
	TONInternational
	TONNational
	TONNetworkSpecific
	TONSubscriberNumber
	TONAlphanumeric
	TONAbbreviated
)

var tonNames = map[TON]string{
	TONUnknown: "UNKNOWN", TONInternational: "INTERNATIONAL", TONNational: "NATIONAL",
	TONNetworkSpecific: "NETWORK_SPECIFIC", TONSubscriberNumber: "SUBSCRIBER_NUMBER",
	TONAlphanumeric: "ALPHANUMERIC", TONAbbreviated: "ABBREVIATED",
}

func (v TON) Valid() bool    { _, ok := tonNames[v]; return ok }
func (v TON) String() string { return enumName(tonNames, v, "TON") }

// NPI is a numbering-plan indicator.
type NPI uint8

const (
	NPIUnknown     NPI = 0x00
	NPIISDN        NPI = 0x01
	NPIData        NPI = 0x03
	NPITelex       NPI = 0x04
	NPILandMobile  NPI = 0x06
	NPINational    NPI = 0x08
	NPIPrivate     NPI = 0x09
	NPIERMES       NPI = 0x0A
	NPIInternet    NPI = 0x0E
	NPIWAPClientID NPI = 0x12
)

var npiNames = map[NPI]string{
	NPIUnknown: "UNKNOWN", NPIISDN: "ISDN", NPIData: "DATA", NPITelex: "TELEX",
	NPILandMobile: "LAND_MOBILE", NPINational: "NATIONAL", NPIPrivate: "PRIVATE",
	NPIERMES: "ERMES", NPIInternet: "INTERNET", NPIWAPClientID: "WAP_CLIENT_ID",
}

func (v NPI) Valid() bool    { _, ok := npiNames[v]; return ok }
func (v NPI) String() string { return enumName(npiNames, v, "NPI") }

// PriorityFlag is priority_flag, levels 0 to 3.
type PriorityFlag uint8

func (v PriorityFlag) Valid() bool    { return v <= 3 }
func (v PriorityFlag) String() string { return fmt.Sprintf("LEVEL_%d", uint8(v)) }

// ReplaceIfPresent is replace_if_present_flag.
type ReplaceIfPresent uint8

const (
	DoNotReplace ReplaceIfPresent = 0
	Replace      ReplaceIfPresent = 1
)

func (v ReplaceIfPresent) Valid() bool { return v <= 1 }
func (v ReplaceIfPresent) String() string {
	if v == Replace {
		return "REPLACE"
	}
	if v == DoNotReplace {
		return "DO_NOT_REPLACE"
	}
	return fmt.Sprintf("ReplaceIfPresent(%d)", uint8(v))
}

// MessageState is the final state of a message as reported by the SMSC.
// Zero is the null value used by query_sm_resp when nothing is known.
type MessageState uint8

const (
	StateEnroute       MessageState = 1
	StateDelivered     MessageState = 2
	StateExpired       MessageState = 3
	StateDeleted       MessageState = 4
	StateUndeliverable MessageState = 5
	StateAccepted      MessageState = 6
	StateUnknown       MessageState = 7
	StateRejected      MessageState = 8
)

var messageStateNames = map[MessageState]string{
	StateEnroute: "ENROUTE", StateDelivered: "DELIVERED", StateExpired: "EXPIRED",
	StateDeleted: "DELETED", StateUndeliverable: "UNDELIVERABLE", StateAccepted: "ACCEPTED",
	StateUnknown: "UNKNOWN", StateRejected: "REJECTED",
}

func (v MessageState) Valid() bool    { return v <= StateRejected }
func (v MessageState) String() string { return enumName(messageStateNames, v, "MessageState") }

// NetworkType is source_network_type / dest_network_type.
type NetworkType uint8

var networkTypeNames = map[NetworkType]string{
	0: "UNKNOWN", 1: "GSM", 2: "TDMA", 3: "CDMA", 4: "PDC", 5: "PHS", 6: "IDEN", 7: "AMPS", 8: "PAGING_NETWORK",
}

func (v NetworkType) Valid() bool    { return v <= 8 }
func (v NetworkType) String() string { return enumName(networkTypeNames, v, "NetworkType") }

// BearerType is source_bearer_type / dest_bearer_type.
type BearerType uint8

var bearerTypeNames = map[BearerType]string{
	0: "UNKNOWN", 1: "SMS", 2: "CSD", 3: "PACKET_DATA", 4: "USSD", 5: "CDPD", 6: "DATATAC", 7: "FLEX_REFLEX", 8: "CELL_BROADCAST",
}

func (v BearerType) Valid() bool    { return v <= 8 }
func (v BearerType) String() string { return enumName(bearerTypeNames, v, "BearerType") }

// AddrSubunit is source_addr_subunit / dest_addr_subunit.
type AddrSubunit uint8

var addrSubunitNames = map[AddrSubunit]string{
	0: "UNKNOWN", 1: "MS_DISPLAY", 2: "MOBILE_EQUIPMENT", 3: "SMART_CARD_1", 4: "EXTERNAL_UNIT_1",
}

func (v AddrSubunit) Valid() bool    { return v <= 4 }
func (v AddrSubunit) String() string { return enumName(addrSubunitNames, v, "AddrSubunit") }

// PayloadType is payload_type.
type PayloadType uint8

var payloadTypeNames = map[PayloadType]string{0: "DEFAULT", 1: "WCMP"}

func (v PayloadType) Valid() bool    { return v <= 1 }
func (v PayloadType) String() string { return enumName(payloadTypeNames, v, "PayloadType") }

// PrivacyIndicator is privacy_indicator.
type PrivacyIndicator uint8

var privacyNames = map[PrivacyIndicator]string{0: "NOT_RESTRICTED", 1: "RESTRICTED", 2: "CONFIDENTIAL", 3: "SECRET"}

func (v PrivacyIndicator) Valid() bool    { return v <= 3 }
func (v PrivacyIndicator) String() string { return enumName(privacyNames, v, "PrivacyIndicator") }

// LanguageIndicator is language_indicator.
type LanguageIndicator uint8

var languageNames = map[LanguageIndicator]string{
	0: "UNSPECIFIED", 1: "ENGLISH", 2: "FRENCH", 3: "SPANISH", 4: "GERMAN", 5: "PORTUGUESE",
}

func (v LanguageIndicator) Valid() bool    { return v <= 5 }
func (v LanguageIndicator) String() string { return enumName(languageNames, v, "LanguageIndicator") }

// DisplayTime is display_time.
type DisplayTime uint8

var displayTimeNames = map[DisplayTime]string{0: "TEMPORARY", 1: "DEFAULT", 2: "INVOKE"}

func (v DisplayTime) Valid() bool    { return v <= 2 }
func (v DisplayTime) String() string { return enumName(displayTimeNames, v, "DisplayTime") }

// MsAvailabilityStatus is ms_availability_status.
type MsAvailabilityStatus uint8

var msAvailabilityNames = map[MsAvailabilityStatus]string{0: "AVAILABLE", 1: "DENIED", 2: "UNAVAILABLE"}

func (v MsAvailabilityStatus) Valid() bool { return v <= 2 }
func (v MsAvailabilityStatus) String() string {
	return enumName(msAvailabilityNames, v, "MsAvailabilityStatus")
}

// DeliveryFailureReason is delivery_failure_reason.
type DeliveryFailureReason uint8

var deliveryFailureNames = map[DeliveryFailureReason]string{
	0: "DESTINATION_UNAVAILABLE", 1: "DESTINATION_ADDRESS_INVALID", 2: "PERMANENT_NETWORK_ERROR", 3: "TEMPORARY_NETWORK_ERROR",
}

func (v DeliveryFailureReason) Valid() bool { return v <= 3 }
func (v DeliveryFailureReason) String() string {
	return enumName(deliveryFailureNames, v, "DeliveryFailureReason")
}

// MoreMessagesToSend is more_messages_to_send.
type MoreMessagesToSend uint8

const (
	NoMoreMessages MoreMessagesToSend = 0
	MoreMessages   MoreMessagesToSend = 1
)

var moreMessagesNames = map[MoreMessagesToSend]string{0: "NO_MORE_MESSAGES", 1: "MORE_MESSAGES"}

func (v MoreMessagesToSend) Valid() bool    { return v <= 1 }
func (v MoreMessagesToSend) String() string { return enumName(moreMessagesNames, v, "MoreMessagesToSend") }

// DestFlag tells whether a submit_multi destination is an address or a
// distribution list.
type DestFlag uint8

const (
	DestSMEAddress       DestFlag = 1
	DestDistributionList DestFlag = 2
)

func (v DestFlag) Valid() bool { return v == DestSMEAddress || v == DestDistributionList }
func (v DestFlag) String() string {
	return enumName(map[DestFlag]string{1: "SME_ADDRESS", 2: "DISTRIBUTION_LIST_NAME"}, v, "DestFlag")
}

// ===== Bit fields =====

// EsmClass is the esm_class octet: messaging mode, message type and GSM
// network features packed into one byte.
type EsmClass uint8

const (
	EsmModeDefault         EsmClass = 0x00
	EsmModeDatagram        EsmClass = 0x01
	EsmModeForward         EsmClass = 0x02
	EsmModeStoreAndForward EsmClass = 0x03

	EsmTypeDefault                  EsmClass = 0x00
	EsmTypeDeliveryReceipt          EsmClass = 0x04
	EsmTypeDeliveryAck              EsmClass = 0x08
	EsmTypeManualAck                EsmClass = 0x10
	EsmTypeConversationAbort        EsmClass = 0x18
	EsmTypeIntermediateNotification EsmClass = 0x20

	EsmUDHI      EsmClass = 0x40
	EsmReplyPath EsmClass = 0x80

	esmModeMask EsmClass = 0x03
	esmTypeMask EsmClass = 0x3C
)

func (e EsmClass) Mode() EsmClass { return e & esmModeMask }
func (e EsmClass) Type() EsmClass { return e & esmTypeMask }

// UDHI reports whether the payload starts with a user data header.
func (e EsmClass) UDHI() bool { return e&EsmUDHI != 0 }

// IsReceipt reports whether the type bits mark a delivery receipt or an
// intermediate notification.
func (e EsmClass) IsReceipt() bool {
	t := e.Type()
	return t == EsmTypeDeliveryReceipt || t == EsmTypeIntermediateNotification
}

func (e EsmClass) Valid() bool {
	switch e.Type() {
	case EsmTypeDefault, EsmTypeDeliveryReceipt, EsmTypeDeliveryAck,
		EsmTypeManualAck, EsmTypeConversationAbort, EsmTypeIntermediateNotification:
		return true
	}
	return false
}

func (e EsmClass) String() string { return fmt.Sprintf("EsmClass(0x%02X)", uint8(e)) }

// RegisteredDelivery is the registered_delivery octet.
type RegisteredDelivery uint8

const (
	NoReceipt                RegisteredDelivery = 0x00
	ReceiptRequested         RegisteredDelivery = 0x01
	ReceiptOnFailure         RegisteredDelivery = 0x02
	SMEDeliveryAck           RegisteredDelivery = 0x04
	SMEManualAck             RegisteredDelivery = 0x08
	IntermediateNotification RegisteredDelivery = 0x10

	receiptMask RegisteredDelivery = 0x03
)

// Receipt returns the SMSC delivery receipt bits.
func (r RegisteredDelivery) Receipt() RegisteredDelivery { return r & receiptMask }
func (r RegisteredDelivery) Valid() bool                  { return r.Receipt() <= ReceiptOnFailure }
func (r RegisteredDelivery) String() string {
	return fmt.Sprintf("RegisteredDelivery(0x%02X)", uint8(r))
}

// DataCoding is the data_coding octet. Every value is accepted on the wire;
// the named constants cover the SMPP v3.4 defaults.
type DataCoding uint8

const (
	CodingDefault         DataCoding = 0x00
	CodingIA5             DataCoding = 0x01
	CodingBinary          DataCoding = 0x02
	CodingLatin1          DataCoding = 0x03
	CodingBinary2         DataCoding = 0x04
	CodingJIS             DataCoding = 0x05
	CodingCyrillic        DataCoding = 0x06
	CodingHebrew          DataCoding = 0x07
	CodingUCS2            DataCoding = 0x08
	CodingPictogram       DataCoding = 0x09
	CodingISO2022JP       DataCoding = 0x0A
	CodingExtendedKanji   DataCoding = 0x0D
	CodingKSC5601         DataCoding = 0x0E
	CodingGSMMessageClass DataCoding = 0xF0
)

var dataCodingNames = map[DataCoding]string{
	CodingDefault: "SMSC_DEFAULT_ALPHABET", CodingIA5: "IA5_ASCII", CodingBinary: "OCTET_UNSPECIFIED",
	CodingLatin1: "LATIN_1", CodingBinary2: "OCTET_UNSPECIFIED_COMMON", CodingJIS: "JIS",
	CodingCyrillic: "CYRILLIC", CodingHebrew: "ISO_8859_8", CodingUCS2: "UCS2",
	CodingPictogram: "PICTOGRAM", CodingISO2022JP: "ISO_2022_JP", CodingExtendedKanji: "EXTENDED_KANJI_JIS",
	CodingKSC5601: "KS_C_5601",
}

// IsGSMMessageClass reports whether the upper nibble selects the GSM
// message-class scheme.
func (d DataCoding) IsGSMMessageClass() bool { return d&0xF0 == CodingGSMMessageClass }

func (d DataCoding) Valid() bool { return true }
func (d DataCoding) String() string {
	if d.IsGSMMessageClass() {
		return fmt.Sprintf("GSM_MESSAGE_CLASS(0x%02X)", uint8(d))
	}
	return enumName(dataCodingNames, d, "RAW")
}

// ===== Composite values =====

// DigitMode is the first octet of callback_num.
type DigitMode uint8

const (
	DigitModeTBCD  DigitMode = 0
	DigitModeASCII DigitMode = 1
)

// CallbackNum is the callback_num TLV value.
type CallbackNum struct {
	DigitMode DigitMode
	TON       TON
	NPI       NPI
	Digits    string
}

// SubaddressType is the type tag of a subaddress.
type SubaddressType uint8

const (
	SubaddressReserved      SubaddressType = 0x00
	SubaddressNSAPEven      SubaddressType = 0x80
	SubaddressNSAPOdd       SubaddressType = 0x88
	SubaddressUserSpecified SubaddressType = 0xA0
)

func (t SubaddressType) Valid() bool {
	switch t {
	case SubaddressReserved, SubaddressNSAPEven, SubaddressNSAPOdd, SubaddressUserSpecified:
		return true
	}
	return false
}

// Subaddress is the source_subaddress / dest_subaddress TLV value.
type Subaddress struct {
	Type  SubaddressType
	Value []byte
}

// NetworkErrorCode is the network_error_code TLV value.
// Type is 1 (ANSI-136), 2 (IS-95), 3 (GSM) or 4 (reserved).
type NetworkErrorCode struct {
	Type uint8
	Code uint16
}

// DestAddress is one destination of a submit_multi. Only the fields that
// match Flag are written.
type DestAddress struct {
	Flag   DestFlag
	TON    TON
	NPI    NPI
	Addr   string
	DLName string
}

// UnsuccessSME reports a destination submit_multi could not deliver to.
type UnsuccessSME struct {
	TON    TON
	NPI    NPI
	Addr   string
	Status CommandStatus
}

// VendorSpecific holds a TLV from the vendor tag range verbatim.
type VendorSpecific struct {
	Tag   Tag
	Value []byte
}
