package types

// FieldKind selects the indexing behaviour of one schema field.
type FieldKind int

const (
	// Analyzed full-text field.
	FieldText FieldKind = iota
	// Stored and matched verbatim, no analysis.
	FieldKeyword
	// Numeric, filterable and sortable.
	FieldNumeric
)

// SchemaField describes one field of the on-disk index.
type SchemaField struct {
	Name string
	Kind FieldKind
}

// Index field names. The locator doubles as the bleve document id but is
// also stored as a field so documents can be reconstructed from hits.
const (
	FieldContent        = "content"
	FieldLocator        = "locator"
	FieldChatID         = "chat_id"
	FieldTimestamp      = "timestamp"
	FieldSender         = "sender"
	FieldAttachmentName = "attachment_name"
	FieldHasAttachment  = "has_attachment"
)

// SchemaFields is the single source of truth for the index schema. The
// engine builds its field mappings from it and verifies an existing index
// against it at open time, so the document model and the on-disk layout
// cannot drift apart silently.
var SchemaFields = []SchemaField{
	{Name: FieldContent, Kind: FieldText},
	{Name: FieldLocator, Kind: FieldKeyword},
	{Name: FieldChatID, Kind: FieldKeyword},
	{Name: FieldTimestamp, Kind: FieldNumeric},
	{Name: FieldSender, Kind: FieldKeyword},
	{Name: FieldAttachmentName, Kind: FieldText},
	{Name: FieldHasAttachment, Kind: FieldNumeric},
}

// SchemaFieldNames returns the expected field names in declaration order.
func SchemaFieldNames() []string {
	names := make([]string, 0, len(SchemaFields))
	for _, f := range SchemaFields {
		names = append(names, f.Name)
	}
	return names
}
