package mcpserver

// NoteFormatContract describes how notes are shaped so that LLM clients
// write titles, tags and links the repository can pick up.
const NoteFormatContract = `# Zettel Note Format

A note is a title plus free text. Tags and links are never stored by hand:
they are read from the text every time it changes.

## Fields

- **title**: short, unique name of the note. Links point at titles, so two
  notes should not share one.
- **content**: plain text or Markdown.

## Tags

Write ` + "`#word`" + ` anywhere in the content. A tag is made of letters, digits
and underscores; punctuation ends it. ` + "`#go-lang`" + ` is the tag ` + "`go`" + `.
Repeats are kept once, in order of first appearance.

## Links

Write ` + "`[[Other Title]]`" + ` to link to the note titled exactly
"Other Title". Matching is case-sensitive. A link to a title that does not
exist yet is allowed; following it later creates the note.

## On disk

In directory storage each note is a ` + "`.md`" + ` file:

` + "```" + `markdown
# Title

Content, with #tags and [[Links]].
` + "```" + `

The first line is the title. Everything after the blank line is content.

## Example

Title: ` + "`Spaced repetition`" + `

` + "```" + `markdown
Reviewing at growing intervals beats cramming. #learning #memory
Related: [[Forgetting curve]], [[Anki]].
` + "```" + `
`
