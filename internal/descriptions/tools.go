package descriptions

// Tool descriptions with practical examples and use cases

const (
	// Inspection tools
	DocumentInfoDescription = `Inspect a stored PDF or spreadsheet before placing a signature.

**When to use:** First step for any document: learn its type, page count and page sizes (PDF) or sheet name, grid size and merged ranges (xlsx/xls).

**Why it's useful:** Placements are validated against the real document. Knowing the page count and merges up front avoids placements that are rejected at stamp time.

**Examples:**
• Check a lease: "How many pages does contracts/lease.pdf have and what size is page 2?"
• Check a timesheet: "Which ranges are merged in timesheets/march.xlsx?"

**Common workflows:**
1. PDF signing: document_info → pdf_preview → pdf_click → stamp_document
2. Sheet signing: document_info → sheet_preview → sheet_click → stamp_document

**Best practices:** Pass type only when the file name has no usable extension; otherwise it is taken from the path.`

	PDFPreviewDescription = `Render one PDF page as a PNG fitted into a preview container.

**When to use:** Show the user the page they are about to sign, optionally with a marker at an existing placement.

**Why it's useful:** The page is scaled to fit the container without distortion. The response reports the scale and raster size so screen clicks can be mapped back to page points.

**Examples:**
• Preview page 1: "Show page 1 of lease.pdf in an 816x1056 container"
• Confirm a placement: "Show page 2 with the marker at x=300, y=400"

**Best practices:** Reuse the same container_width and container_height for pdf_click, otherwise the click maps through a different scale.`

	PDFClickDescription = `Convert a click on the PDF preview into a signature placement in page points.

**When to use:** The user clicked the rendered page and you need the native placement (bottom-left origin, points) to stamp at.

**Why it's useful:** Handles the screen-to-page transform: top-left pixel origin on screen, bottom-left point origin in the PDF, and the fit scale. Clicks outside the page are clamped to its edge.

**Examples:**
• "The user clicked (145, 188) on page 2 of lease.pdf in a 306x396 container"

**Best practices:** x and y are relative to the rendered page image, not the window.`

	SheetPreviewDescription = `Render the first sheet of a workbook as an HTML grid.

**When to use:** Show a spreadsheet so the user can pick the cell a signature goes into.

**Why it's useful:** Column widths and row heights match the workbook, merged ranges become a single spanning cell, and formulas show their cached values. Very large sheets return a placeholder instead of the grid.

**Examples:**
• "Show timesheets/march.xlsx so I can choose where to sign"

**Best practices:** Use the cell addresses from the returned grid with sheet_click.`

	SheetClickDescription = `Convert a click on a rendered cell into a spreadsheet signature placement.

**When to use:** The user clicked a cell of the sheet preview.

**Why it's useful:** Clicks on a merged block are attributed to the real cell under the pointer, and the placement carries both the cell address and the native point of that cell.

**Examples:**
• "The user clicked 80% across and 50% down the merged cell B5 (rendered 210x20)"

**Best practices:** offset_x/offset_y are pixels inside the rendered cell; width/height are the rendered cell size.`

	// Stamping
	StampDocumentDescription = `Stamp a signature image, and optionally a text label, into a stored PDF or spreadsheet.

**When to use:** The placement is decided and the signature is available as a stored image, an inline data URL, or freehand strokes.

**Why it's useful:** Writes a new file next to the source (<name>.signed.<ext>) and never touches the original. PDFs get the image centered on the placement point; spreadsheets get the image anchored at the cell. Labels fall back through bundled fonts to Helvetica if needed.

**Examples:**
• PDF: "Sign page 3 of lease.pdf at x=300, y=120 with signatures/jane.png and label 'Jane Roe'"
• Sheet: "Put the drawn signature into cell F10 of march.xlsx"

**Common workflows:**
1. pdf_click or sheet_click → stamp_document with the returned placement
2. stamp_document → download from the returned url

**Best practices:** Check stamped in the response: a placement that no longer fits the document (page out of range, bad cell) returns the original bytes with stamped=false and a warning instead of failing.`

	ServerInfoDescription = `Get server configuration, storage backend, fonts and available tools.

**When to use:** Start of a session, or when a stamp reports a font warning and you want to check which fonts are installed.

**Why it's useful:** Shows what the server can do without touching any document.

**Examples:**
• "Which storage backend is this server using?"
• "Which fonts are available for signature labels?"`
)
