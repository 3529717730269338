// Package filetypes maps file extensions to display categories and
// content types.
package filetypes

import (
	"mime"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// FileCategory is the display category of a file
type FileCategory string

// File categories
const (
	CategoryFolder       FileCategory = "folder"
	CategoryArchive      FileCategory = "archive"
	CategoryAudio        FileCategory = "audio"
	CategoryCode         FileCategory = "code"
	CategoryDocument     FileCategory = "document"
	CategoryImage        FileCategory = "image"
	CategoryPdf          FileCategory = "pdf"
	CategoryPresentation FileCategory = "presentation"
	CategorySheet        FileCategory = "sheet"
	CategoryText         FileCategory = "text"
	CategoryVideo        FileCategory = "video"
	CategoryGeneric      FileCategory = "generic"
)

// extCategories maps a lowercase extension to its category. Anything
// missing is CategoryGeneric.
var extCategories = map[string]FileCategory{
	"3ds": CategoryImage, "3g2": CategoryVideo, "3gp": CategoryVideo,
	"7z": CategoryArchive, "aac": CategoryAudio, "ac3": CategoryAudio,
	"aif": CategoryAudio, "aiff": CategoryAudio, "amr": CategoryAudio,
	"ape": CategoryAudio, "arj": CategoryArchive, "arw": CategoryImage,
	"asf": CategoryVideo, "asp": CategoryCode, "aspx": CategoryCode,
	"au": CategoryAudio, "avi": CategoryVideo, "bat": CategoryText,
	"bmp": CategoryImage, "bz2": CategoryArchive, "c": CategoryCode,
	"c++": CategoryCode, "cc": CategoryCode, "cpp": CategoryCode,
	"cr2": CategoryImage, "cs": CategoryCode, "css": CategoryCode,
	"csv": CategorySheet, "deb": CategoryArchive, "dng": CategoryImage,
	"doc": CategoryDocument, "docm": CategoryDocument, "docx": CategoryDocument,
	"dot": CategoryDocument, "eml": CategoryText, "eps": CategoryImage,
	"epub": CategoryDocument, "flac": CategoryAudio, "flv": CategoryVideo,
	"gif": CategoryImage, "go": CategoryCode, "gz": CategoryArchive,
	"h": CategoryCode, "heic": CategoryImage, "heif": CategoryImage,
	"hpp": CategoryCode, "htm": CategoryCode, "html": CategoryCode,
	"ico": CategoryImage, "ics": CategoryText, "java": CategoryCode,
	"jpe": CategoryImage, "jpeg": CategoryImage, "jpg": CategoryImage,
	"js": CategoryCode, "json": CategoryCode, "key": CategoryPresentation,
	"log": CategoryText, "m4a": CategoryAudio, "m4v": CategoryVideo,
	"md": CategoryText, "mid": CategoryAudio, "mkv": CategoryVideo,
	"mobi": CategoryDocument, "mov": CategoryVideo, "mp3": CategoryAudio,
	"mp4": CategoryVideo, "mpeg": CategoryVideo, "mpg": CategoryVideo,
	"nef": CategoryImage, "numbers": CategorySheet, "odp": CategoryPresentation,
	"ods": CategorySheet, "odt": CategoryDocument, "oga": CategoryAudio,
	"ogg": CategoryAudio, "ogv": CategoryVideo, "opus": CategoryAudio,
	"orf": CategoryImage, "pages": CategoryDocument, "pdf": CategoryPdf,
	"php": CategoryCode, "pl": CategoryCode, "png": CategoryImage,
	"pps": CategoryPresentation, "ppt": CategoryPresentation,
	"pptm": CategoryPresentation, "pptx": CategoryPresentation,
	"ps": CategoryImage, "psd": CategoryImage, "py": CategoryCode,
	"rar": CategoryArchive, "raw": CategoryImage, "rb": CategoryCode,
	"rs": CategoryCode, "rtf": CategoryDocument, "sh": CategoryCode,
	"sql": CategoryCode, "srt": CategoryText, "svg": CategoryImage,
	"swift": CategoryCode, "tar": CategoryArchive, "tbz": CategoryArchive,
	"tbz2": CategoryArchive, "tga": CategoryImage, "tgz": CategoryArchive,
	"tif": CategoryImage, "tiff": CategoryImage, "ts": CategoryCode,
	"txt": CategoryText, "vob": CategoryVideo, "wav": CategoryAudio,
	"webm": CategoryVideo, "webp": CategoryImage, "wma": CategoryAudio,
	"wmv": CategoryVideo, "xhtml": CategoryCode, "xls": CategorySheet,
	"xlsm": CategorySheet, "xlsx": CategorySheet, "xml": CategoryCode,
	"xz": CategoryArchive, "yaml": CategoryCode, "yml": CategoryCode,
	"zip": CategoryArchive,
}

// ExtCategory returns the category of a lowercase extension.
func ExtCategory(ext string) FileCategory {
	if category, ok := extCategories[ext]; ok {
		return category
	}
	return CategoryGeneric
}

// ExtContentType returns the content type of a lowercase extension or
// "" when unknown.
func ExtContentType(ext string) string {
	if ext == "" {
		return ""
	}
	contentType := mime.TypeByExtension("." + ext)
	if contentType == "" {
		return ""
	}
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	return contentType
}

// DetectContentType sniffs the content type from the first bytes of a
// file. Used when the extension gives nothing.
func DetectContentType(head []byte) string {
	return mimetype.Detect(head).String()
}
